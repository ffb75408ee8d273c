package flow

import (
	"context"
	"log/slog"

	"github.com/go-stack/stack"
	"github.com/meikuraledutech/blockflow"
)

// DefaultMaxDepth bounds how deep chained fires may nest before deliveries
// are dropped.
const DefaultMaxDepth = 64

type depthKey struct{}

// Depth returns how many Fire calls enclose ctx.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Bus delivers payloads from output handles to the input callbacks wired to
// them.
//
// The bus does not detect cycles. A cycle whose handlers keep re-firing
// recurses until MaxDepth is reached, at which point further deliveries in
// that chain are dropped with a warning.
type Bus struct {
	graph    *Graph
	registry *Registry
	log      *slog.Logger

	// MaxDepth is the deepest nesting of chained fires that still delivers.
	MaxDepth int
}

// NewBus creates a Bus reading edges from graph and callbacks from registry.
func NewBus(graph *Graph, registry *Registry, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{graph: graph, registry: registry, log: log, MaxDepth: DefaultMaxDepth}
}

// Fire delivers p to every input callback wired to (nodeID, handleID),
// synchronously and in edge insertion order, and returns the number of
// callbacks invoked. Targets without a registered callback are skipped.
func (b *Bus) Fire(ctx context.Context, nodeID string, handleID blockflow.HandleID, p blockflow.Payload) int {
	depth := Depth(ctx)
	if depth >= b.MaxDepth {
		b.log.Warn("flow: fire depth exceeded, dropping delivery",
			"node", nodeID, "handle", handleID, "depth", depth)
		return 0
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	delivered := 0
	for _, e := range b.graph.OutgoingEdges(nodeID, handleID) {
		cb, ok := b.registry.Lookup(e.Target, e.TargetHandle)
		if !ok {
			continue
		}
		b.deliver(ctx, e, cb, p)
		delivered++
	}
	return delivered
}

func (b *Bus) deliver(ctx context.Context, e blockflow.Edge, cb Callback, p blockflow.Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("flow: input handler panicked",
				"edge", e.ID, "target", e.Target, "handle", e.TargetHandle, "panic", r,
				"stack", stack.Trace().TrimRuntime().String())
		}
	}()
	cb(ctx, p)
}

// Graph returns the bus's live edge list.
func (b *Bus) Graph() *Graph { return b.graph }

// Registry returns the bus's handle registry.
func (b *Bus) Registry() *Registry { return b.registry }

// Canvas bundles the per-canvas-instance state: registry, graph and bus.
type Canvas struct {
	*Bus
}

// NewCanvas wires a fresh registry, graph and bus together.
func NewCanvas(log *slog.Logger) *Canvas {
	reg := NewRegistry()
	g := NewGraph(reg)
	return &Canvas{Bus: NewBus(g, reg, log)}
}

// Load replaces the canvas's edges with the persisted ones.
func (c *Canvas) Load(canvas *blockflow.Canvas) {
	c.graph.SetEdges(canvas.Edges)
}
