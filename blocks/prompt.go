package blocks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/flow"
)

const (
	PromptIn  blockflow.HandleID = "left-in"
	PromptOut blockflow.HandleID = "right-out"
)

// Placeholder is replaced by the incoming text when a prompt renders.
const Placeholder = "{{input}}"

// PromptContent is a prompt's persisted content.
type PromptContent struct {
	Template string `json:"template"`
	Rendered string `json:"rendered,omitempty"`
}

// Prompt renders incoming text into its template and fires the result when
// asked to execute.
type Prompt struct {
	base

	mu      sync.Mutex
	content PromptContent
}

// NewPrompt mounts a prompt block.
func NewPrompt(env Env, id string, data json.RawMessage) *Prompt {
	p := &Prompt{base: newBase(env, id, blockflow.BlockPrompt)}
	p.content = decodeContent(p.log, data, PromptContent{})
	p.watch(p.Refresh)
	return p
}

// Refresh registers the prompt's input.
func (p *Prompt) Refresh() {
	p.mount.Sync(map[blockflow.HandleID]flow.Callback{PromptIn: p.receive})
}

// Render substitutes input into template. A template without the
// placeholder gets the input appended on a new line; an empty template
// passes the input through.
func Render(template, input string) string {
	switch {
	case strings.TrimSpace(template) == "":
		return input
	case strings.Contains(template, Placeholder):
		return strings.ReplaceAll(template, Placeholder, input)
	case input == "":
		return template
	default:
		return template + "\n" + input
	}
}

func (p *Prompt) receive(ctx context.Context, in blockflow.Payload) {
	p.mu.Lock()
	p.content.Rendered = Render(p.content.Template, in.Text)
	content := p.content
	p.mu.Unlock()

	p.save(content)
	if in.Execute {
		p.fire(ctx, PromptOut, in.WithText(content.Rendered))
	}
}

// SetTemplate edits the template.
func (p *Prompt) SetTemplate(template string) {
	p.mu.Lock()
	p.content.Template = template
	content := p.content
	p.mu.Unlock()
	p.save(content)
}

// Rendered returns the last rendered text.
func (p *Prompt) Rendered() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content.Rendered
}

// Run fires the current rendering, or the bare template when nothing has
// been received yet.
func (p *Prompt) Run(ctx context.Context, newSession bool) int {
	p.mu.Lock()
	text := p.content.Rendered
	if text == "" {
		text = Render(p.content.Template, "")
	}
	p.mu.Unlock()
	return p.fire(ctx, PromptOut, blockflow.Payload{Text: text, Execute: true, NewSession: newSession})
}

// Close unmounts the prompt.
func (p *Prompt) Close() { p.close(nil) }
