package blocks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/flow"
	"github.com/tidwall/gjson"
)

// Decision handles. DecisionYes always carries YES and DecisionNo always
// carries NO; DecisionFlex takes its role from the wiring, see FlexRole.
const (
	DecisionTopIn  blockflow.HandleID = "top-in"
	DecisionLeftIn blockflow.HandleID = "left-in"
	DecisionYes    blockflow.HandleID = "bottomleft-out"
	DecisionNo     blockflow.HandleID = "topright-out"
	DecisionFlex   blockflow.HandleID = "bottomright-out"
)

// Branch is the outcome of a decision.
type Branch bool

const (
	Yes Branch = true
	No  Branch = false
)

func (b Branch) String() string {
	if b {
		return "yes"
	}
	return "no"
}

// FlexRole returns the branch DecisionFlex carries on nodeID: YES iff the
// YES output has no outgoing edges and the NO output has at least one,
// otherwise NO. It is computed from edges on every call and never stored.
func FlexRole(nodeID string, edges []blockflow.Edge) Branch {
	if flow.OutgoingCount(nodeID, DecisionYes, edges) == 0 &&
		flow.OutgoingCount(nodeID, DecisionNo, edges) > 0 {
		return Yes
	}
	return No
}

// BranchOutputs returns the output handles that carry branch on nodeID.
func BranchOutputs(nodeID string, edges []blockflow.Edge, branch Branch) []blockflow.HandleID {
	fixed := DecisionNo
	if branch == Yes {
		fixed = DecisionYes
	}
	if FlexRole(nodeID, edges) == branch {
		return []blockflow.HandleID{fixed, DecisionFlex}
	}
	return []blockflow.HandleID{fixed}
}

// DecisionContent configures the predicate. Path, when set, selects the
// operand from JSON input text; XPath does the same for XML or HTML input
// and wins over Path.
type DecisionContent struct {
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
	Path     string   `json:"path,omitempty"`
	XPath    string   `json:"xpath,omitempty"`
}

// Decision evaluates its predicate on every payload it receives and routes
// the untouched payload to the YES or NO outputs.
type Decision struct {
	base

	mu      sync.Mutex
	content DecisionContent
	last    *Branch
}

// NewDecision mounts a decision block.
func NewDecision(env Env, id string, data json.RawMessage) *Decision {
	d := &Decision{base: newBase(env, id, blockflow.BlockDecision)}
	d.content = decodeContent(d.log, data, DecisionContent{Operator: OpContains})
	d.watch(d.Refresh)
	return d
}

// Refresh registers both inputs.
func (d *Decision) Refresh() {
	d.mount.Sync(map[blockflow.HandleID]flow.Callback{
		DecisionTopIn:  d.receive,
		DecisionLeftIn: d.receive,
	})
}

// Configure replaces the predicate.
func (d *Decision) Configure(c DecisionContent) {
	d.mu.Lock()
	d.content = c
	d.mu.Unlock()
	d.save(c)
}

// Decide evaluates the predicate against a payload's text.
func (d *Decision) Decide(text string) Branch {
	d.mu.Lock()
	c := d.content
	d.mu.Unlock()

	operand := text
	switch {
	case c.XPath != "":
		operand = d.xpathOperand(text, c.XPath)
	case c.Path != "":
		operand = gjson.Get(text, c.Path).String()
	}
	return Branch(Evaluate(operand, c.Operator, c.Value))
}

// xpathOperand returns the inner text of the first node matching expr, or
// "" when the input does not parse or nothing matches.
func (d *Decision) xpathOperand(text, expr string) string {
	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		d.log.Debug("blocks: decision input is not XML", "error", err)
		return ""
	}
	n, err := xmlquery.Query(doc, expr)
	if err != nil {
		d.log.Warn("blocks: bad decision xpath", "xpath", expr, "error", err)
		return ""
	}
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func (d *Decision) receive(ctx context.Context, p blockflow.Payload) {
	branch := d.Decide(p.Text)

	d.mu.Lock()
	d.last = &branch
	d.mu.Unlock()

	outputs := BranchOutputs(d.id, d.edges(), branch)
	d.log.Debug("blocks: decision routed", "branch", branch.String(), "outputs", outputs)
	for _, h := range outputs {
		d.fire(ctx, h, p)
	}
}

// LastBranch returns the most recent outcome, if any payload has arrived.
func (d *Decision) LastBranch() (Branch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return No, false
	}
	return *d.last, true
}

// FlexRole returns the current role of the flexible output.
func (d *Decision) FlexRole() Branch { return FlexRole(d.id, d.edges()) }

// Close unmounts the decision.
func (d *Decision) Close() { d.close(nil) }
