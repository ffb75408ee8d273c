package blocks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexRole(t *testing.T) {
	yes := blockflow.Edge{Source: "D", SourceHandle: DecisionYes, Target: "Y", TargetHandle: "left-in"}
	no := blockflow.Edge{Source: "D", SourceHandle: DecisionNo, Target: "N", TargetHandle: "left-in"}

	tests := []struct {
		name  string
		edges []blockflow.Edge
		want  Branch
	}{
		{"neither wired", nil, No},
		{"only yes wired", []blockflow.Edge{yes}, No},
		{"only no wired", []blockflow.Edge{no}, Yes},
		{"both wired", []blockflow.Edge{yes, no}, No},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexRole("D", tt.edges))
		})
	}
}

func TestBranchOutputs(t *testing.T) {
	no := blockflow.Edge{Source: "D", SourceHandle: DecisionNo, Target: "N", TargetHandle: "left-in"}

	assert.Equal(t, []blockflow.HandleID{DecisionYes}, BranchOutputs("D", nil, Yes))
	assert.Equal(t, []blockflow.HandleID{DecisionNo, DecisionFlex}, BranchOutputs("D", nil, No))
	assert.Equal(t, []blockflow.HandleID{DecisionYes, DecisionFlex}, BranchOutputs("D", []blockflow.Edge{no}, Yes))
	assert.Equal(t, []blockflow.HandleID{DecisionNo}, BranchOutputs("D", []blockflow.Edge{no}, No))
}

type sinkBlock struct {
	got []blockflow.Payload
}

func (s *sinkBlock) register(c *flow.Canvas, node string, h blockflow.HandleID) {
	c.Registry().Register(node, h, func(_ context.Context, p blockflow.Payload) { s.got = append(s.got, p) })
}

func decisionFixture(t *testing.T, content string) (*flow.Canvas, *Decision) {
	t.Helper()
	c := flow.NewCanvas(nil)
	d := NewDecision(Env{Canvas: c}, "D", json.RawMessage(content))
	t.Cleanup(d.Close)
	return c, d
}

func TestDecisionRoutesOriginalPayload(t *testing.T) {
	c, _ := decisionFixture(t, `{"operator":"contains","value":"ok"}`)
	yes, no := &sinkBlock{}, &sinkBlock{}
	yes.register(c, "Y", "left-in")
	no.register(c, "N", "left-in")
	c.Graph().Connect("D", DecisionYes, "Y", "left-in")
	c.Graph().Connect("D", DecisionNo, "N", "left-in")
	c.Graph().Connect("S", "right-out", "D", DecisionLeftIn)

	in := blockflow.Payload{Text: "build OK", Execute: true, NewSession: true}
	c.Fire(context.Background(), "S", "right-out", in)

	require.Len(t, yes.got, 1)
	assert.Equal(t, in, yes.got[0])
	assert.Empty(t, no.got)

	c.Fire(context.Background(), "S", "right-out", blockflow.Payload{Text: "build failed"})
	require.Len(t, no.got, 1)
	assert.Equal(t, "build failed", no.got[0].Text)
}

func TestDecisionTopInput(t *testing.T) {
	c, d := decisionFixture(t, `{"operator":"greater_than","value":"10"}`)
	yes := &sinkBlock{}
	yes.register(c, "Y", "left-in")
	c.Graph().Connect("D", DecisionYes, "Y", "left-in")
	c.Graph().Connect("S", "bottom-out", "D", DecisionTopIn)

	c.Fire(context.Background(), "S", "bottom-out", blockflow.Payload{Text: "11"})
	assert.Len(t, yes.got, 1)

	branch, ok := d.LastBranch()
	assert.True(t, ok)
	assert.Equal(t, Yes, branch)
}

func TestDecisionFlexFollowsRewiring(t *testing.T) {
	c, d := decisionFixture(t, `{"operator":"equals","value":"go"}`)
	flex, no := &sinkBlock{}, &sinkBlock{}
	flex.register(c, "F", "left-in")
	no.register(c, "N", "left-in")
	c.Graph().Connect("D", DecisionFlex, "F", "left-in")
	noEdge := c.Graph().Connect("D", DecisionNo, "N", "left-in")

	// YES output unwired, NO wired: flex carries YES.
	assert.Equal(t, Yes, d.FlexRole())
	cb, ok := c.Registry().Lookup("D", DecisionLeftIn)
	require.True(t, ok)
	cb(context.Background(), blockflow.Payload{Text: "go"})
	assert.Len(t, flex.got, 1)
	assert.Empty(t, no.got)

	// Removing the NO wire flips flex back to NO without touching the block.
	c.Graph().RemoveEdge(noEdge)
	assert.Equal(t, No, d.FlexRole())
	cb(context.Background(), blockflow.Payload{Text: "stop"})
	assert.Len(t, flex.got, 2)
	cb(context.Background(), blockflow.Payload{Text: "go"})
	assert.Len(t, flex.got, 2)
}

func TestDecisionPathExtractsOperand(t *testing.T) {
	_, d := decisionFixture(t, `{"operator":"less_than","value":"5","path":"stats.errors"}`)
	assert.Equal(t, Yes, d.Decide(`{"stats":{"errors":2}}`))
	assert.Equal(t, No, d.Decide(`{"stats":{"errors":9}}`))
	assert.Equal(t, No, d.Decide(`not json`))
}

func TestDecisionXPathExtractsOperand(t *testing.T) {
	_, d := decisionFixture(t, `{"operator":"equals","value":"green","path":"ignored","xpath":"//build/status"}`)
	assert.Equal(t, Yes, d.Decide(`<report><build><status> green </status></build></report>`))
	assert.Equal(t, No, d.Decide(`<report><build><status>red</status></build></report>`))
	assert.Equal(t, No, d.Decide(`<report/>`), "no match yields an empty operand")

	_, bad := decisionFixture(t, `{"operator":"contains","value":"","xpath":"//["}`)
	assert.Equal(t, Yes, bad.Decide(`<a/>`), "a broken xpath degrades to the empty operand")
}

func TestDecisionBadContentUsesDefaults(t *testing.T) {
	_, d := decisionFixture(t, `{"operator":`)
	assert.Equal(t, Yes, d.Decide("anything"), "default is contains with an empty value")
}

func TestDecisionMalformedNumbersNeverPanic(t *testing.T) {
	c, _ := decisionFixture(t, `{"operator":"greater_than","value":"ten"}`)
	no := &sinkBlock{}
	no.register(c, "N", "left-in")
	c.Graph().Connect("D", DecisionNo, "N", "left-in")
	c.Graph().Connect("S", "right-out", "D", DecisionLeftIn)

	assert.NotPanics(t, func() {
		c.Fire(context.Background(), "S", "right-out", blockflow.Payload{Text: "11"})
	})
	assert.Len(t, no.got, 1)
}
