package flow

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/meikuraledutech/blockflow"
)

// Graph is a canvas instance's live edge list. Only canvas edit operations
// mutate it; readers take a fresh snapshot with Edges every time they need
// one and never keep it across a mutation.
type Graph struct {
	mu        sync.RWMutex
	edges     []blockflow.Edge
	registry  *Registry
	listeners map[int]func()
	nextID    int
}

// NewGraph creates an empty Graph. Removing a node from it releases the
// node's handles in registry.
func NewGraph(registry *Registry) *Graph {
	return &Graph{registry: registry, listeners: make(map[int]func())}
}

// Edges returns a snapshot of the edge list in insertion order.
func (g *Graph) Edges() []blockflow.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.edges)
}

// SetEdges replaces the whole edge list, e.g. when a canvas is loaded from
// the store.
func (g *Graph) SetEdges(edges []blockflow.Edge) {
	g.mu.Lock()
	g.edges = slices.Clone(edges)
	g.mu.Unlock()
	g.notify()
}

// AddEdge appends an edge and returns its ID. An empty ID is filled with a
// UUID.
func (g *Graph) AddEdge(e blockflow.Edge) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	g.mu.Lock()
	g.edges = append(g.edges, e)
	g.mu.Unlock()
	g.notify()
	return e.ID
}

// Connect is AddEdge for the common case.
func (g *Graph) Connect(source string, sourceHandle blockflow.HandleID, target string, targetHandle blockflow.HandleID) string {
	return g.AddEdge(blockflow.Edge{
		Source:       source,
		SourceHandle: sourceHandle,
		Target:       target,
		TargetHandle: targetHandle,
	})
}

// RemoveEdge deletes the edge with the given ID. It reports whether an edge
// was removed.
func (g *Graph) RemoveEdge(edgeID string) bool {
	g.mu.Lock()
	n := len(g.edges)
	g.edges = slices.DeleteFunc(g.edges, func(e blockflow.Edge) bool { return e.ID == edgeID })
	removed := len(g.edges) != n
	g.mu.Unlock()
	if removed {
		g.notify()
	}
	return removed
}

// RemoveNode drops every edge touching nodeID and releases its registered
// handles.
func (g *Graph) RemoveNode(nodeID string) {
	g.mu.Lock()
	g.edges = slices.DeleteFunc(g.edges, func(e blockflow.Edge) bool {
		return e.Source == nodeID || e.Target == nodeID
	})
	g.mu.Unlock()
	if g.registry != nil {
		g.registry.ReleaseNode(nodeID)
	}
	g.notify()
}

// Subscribe registers fn to run after every mutation. The returned func
// cancels the subscription.
func (g *Graph) Subscribe(fn func()) (cancel func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

// OutgoingEdges returns the edges whose source is (nodeID, handleID), in
// insertion order.
func (g *Graph) OutgoingEdges(nodeID string, handleID blockflow.HandleID) []blockflow.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []blockflow.Edge
	for _, e := range g.edges {
		if e.Source == nodeID && e.SourceHandle == handleID {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) notify() {
	g.mu.RLock()
	ids := make([]int, 0, len(g.listeners))
	for id := range g.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, g.listeners[id])
	}
	g.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
