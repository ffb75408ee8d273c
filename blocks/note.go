package blocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/flow"
)

// Note handles. Each side shows its paired handle once that side is wired.
const (
	NoteLeftIn   blockflow.HandleID = "left-in"
	NoteLeftOut  blockflow.HandleID = "left-out"
	NoteRightOut blockflow.HandleID = "right-out"
	NoteRightIn  blockflow.HandleID = "right-in"
)

var notePairs = []flow.HandlePair{
	{Primary: NoteLeftIn, Secondary: NoteLeftOut},
	{Primary: NoteRightOut, Secondary: NoteRightIn},
}

// NoteContent is a note's persisted content.
type NoteContent struct {
	Text string `json:"text"`
}

// Note holds text. Incoming text replaces it; it is relayed onward only
// when the payload asks to execute.
type Note struct {
	base

	mu      sync.Mutex
	content NoteContent
	visible flow.HandleSet
}

// NewNote mounts a note block.
func NewNote(env Env, id string, data json.RawMessage) *Note {
	n := &Note{base: newBase(env, id, blockflow.BlockNote)}
	n.content = decodeContent(n.log, data, NoteContent{})
	n.watch(n.Refresh)
	return n
}

// Refresh registers the visible input handles.
func (n *Note) Refresh() {
	visible := flow.VisibleHandles(n.id, n.edges(), notePairs)

	n.mu.Lock()
	n.visible = visible
	n.mu.Unlock()

	want := make(map[blockflow.HandleID]flow.Callback)
	for h := range visible {
		if h.Direction() == blockflow.In {
			want[h] = n.receive
		}
	}
	n.mount.Sync(want)
}

func (n *Note) receive(ctx context.Context, p blockflow.Payload) {
	n.mu.Lock()
	n.content.Text = p.Text
	content := n.content
	n.mu.Unlock()

	n.save(content)
	if p.Execute {
		n.send(ctx, p)
	}
}

// Text returns the note's current text.
func (n *Note) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.content.Text
}

// SetText edits the note.
func (n *Note) SetText(text string) {
	n.mu.Lock()
	n.content.Text = text
	content := n.content
	n.mu.Unlock()
	n.save(content)
}

// VisibleHandles returns the handles the note currently shows.
func (n *Note) VisibleHandles() flow.HandleSet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

// Send fires the note's text on its outputs and returns the number of
// deliveries.
func (n *Note) Send(ctx context.Context, execute bool) int {
	return n.send(ctx, blockflow.Payload{Text: n.Text(), Execute: execute})
}

func (n *Note) send(ctx context.Context, p blockflow.Payload) int {
	p = p.WithText(n.Text())
	visible := n.VisibleHandles()
	delivered := 0
	for _, h := range []blockflow.HandleID{NoteRightOut, NoteLeftOut} {
		if visible.Has(h) {
			delivered += n.fire(ctx, h, p)
		}
	}
	return delivered
}

// Close unmounts the note.
func (n *Note) Close() { n.close(nil) }
