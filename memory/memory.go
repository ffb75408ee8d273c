// Package memory is an in-process blockflow.Store. It backs tests, the
// example program and single-node deployments without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/blockflow"
)

type nodeRow struct {
	canvasID string
	node     blockflow.Node
}

type edgeRow struct {
	canvasID string
	edge     blockflow.Edge
}

type scheduleKey struct{ dashboard, item string }

// Store keeps everything in maps guarded by one mutex. Insertion order is
// preserved for list operations.
type Store struct {
	mu        sync.Mutex
	nodes     map[string]*nodeRow
	nodeOrder []string
	edges     map[string]*edgeRow
	edgeOrder []string
	schedules map[scheduleKey]blockflow.Schedule
	execs     []blockflow.Execution
	now       func() time.Time
}

var _ blockflow.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	s := &Store{now: time.Now}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = make(map[string]*nodeRow)
	s.nodeOrder = nil
	s.edges = make(map[string]*edgeRow)
	s.edgeOrder = nil
	s.schedules = make(map[scheduleKey]blockflow.Schedule)
	s.execs = nil
}

// CreateSchema is a no-op.
func (s *Store) CreateSchema(context.Context) error { return nil }

// DropSchema discards all data.
func (s *Store) DropSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// CreateCanvas replaces the canvas c.ID with c, resolving refs and assigning
// missing IDs the same way the postgres store does.
func (s *Store) CreateCanvas(_ context.Context, c *blockflow.Canvas) (*blockflow.Canvas, error) {
	refMap := make(map[string]string)
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Ref != "" {
			refMap[n.Ref] = n.ID
		}
	}
	for i := range c.Edges {
		e := &c.Edges[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.SourceRef != "" {
			id, ok := refMap[e.SourceRef]
			if !ok {
				return nil, fmt.Errorf("blockflow: unknown source_ref %q", e.SourceRef)
			}
			e.Source = id
		}
		if e.TargetRef != "" {
			id, ok := refMap[e.TargetRef]
			if !ok {
				return nil, fmt.Errorf("blockflow: unknown target_ref %q", e.TargetRef)
			}
			e.Target = id
		}
		e.SourceRef, e.TargetRef = "", ""
	}
	for i := range c.Nodes {
		c.Nodes[i].Ref = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCanvasLocked(c.ID)
	for _, n := range c.Nodes {
		s.putNodeLocked(c.ID, n)
	}
	for _, e := range c.Edges {
		s.putEdgeLocked(c.ID, e)
	}
	return c, nil
}

// GetCanvas returns nil, nil when the canvas has no nodes.
func (s *Store) GetCanvas(_ context.Context, canvasID string) (*blockflow.Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.listNodesLocked(canvasID)
	if len(nodes) == 0 {
		return nil, nil
	}
	return &blockflow.Canvas{ID: canvasID, Nodes: nodes, Edges: s.listEdgesLocked(canvasID)}, nil
}

func (s *Store) DeleteCanvas(_ context.Context, canvasID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCanvasLocked(canvasID)
	return nil
}

func (s *Store) deleteCanvasLocked(canvasID string) {
	for id, r := range s.edges {
		if r.canvasID == canvasID {
			s.deleteEdgeLocked(id)
		}
	}
	for id, r := range s.nodes {
		if r.canvasID == canvasID {
			s.deleteNodeLocked(id)
		}
	}
}

// ── Nodes ─────────────────────────────────────────────────────────

func (s *Store) AddNode(_ context.Context, canvasID string, node *blockflow.Node) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[node.ID]; ok {
		return "", fmt.Errorf("blockflow: insert node: duplicate id %s", node.ID)
	}
	s.putNodeLocked(canvasID, *node)
	return node.ID, nil
}

func (s *Store) putNodeLocked(canvasID string, n blockflow.Node) {
	n.Ref = ""
	n.Data = clone(n.Data)
	if _, ok := s.nodes[n.ID]; !ok {
		s.nodeOrder = append(s.nodeOrder, n.ID)
	}
	s.nodes[n.ID] = &nodeRow{canvasID: canvasID, node: n}
}

// GetNode returns nil, nil if not found.
func (s *Store) GetNode(_ context.Context, nodeID string) (*blockflow.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	n := r.node
	n.Data = clone(n.Data)
	return &n, nil
}

func (s *Store) UpdateNode(_ context.Context, node *blockflow.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[node.ID]
	if !ok {
		return blockflow.ErrNodeNotFound
	}
	r.node.Type = node.Type
	r.node.Data = clone(node.Data)
	return nil
}

func (s *Store) SaveContent(_ context.Context, nodeID string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[nodeID]
	if !ok {
		return blockflow.ErrNodeNotFound
	}
	r.node.Data = clone(data)
	return nil
}

// DeleteNode removes the node and every edge touching it.
func (s *Store) DeleteNode(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteNodeLocked(nodeID)
	return nil
}

func (s *Store) deleteNodeLocked(nodeID string) {
	if _, ok := s.nodes[nodeID]; !ok {
		return
	}
	for id, r := range s.edges {
		if r.edge.Source == nodeID || r.edge.Target == nodeID {
			s.deleteEdgeLocked(id)
		}
	}
	delete(s.nodes, nodeID)
	s.nodeOrder = slices.DeleteFunc(s.nodeOrder, func(id string) bool { return id == nodeID })
}

func (s *Store) ListNodes(_ context.Context, canvasID string) ([]blockflow.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listNodesLocked(canvasID), nil
}

func (s *Store) listNodesLocked(canvasID string) []blockflow.Node {
	out := []blockflow.Node{}
	for _, id := range s.nodeOrder {
		if r := s.nodes[id]; r.canvasID == canvasID {
			n := r.node
			n.Data = clone(n.Data)
			out = append(out, n)
		}
	}
	return out
}

// ── Edges ─────────────────────────────────────────────────────────

func (s *Store) AddEdge(_ context.Context, canvasID string, edge *blockflow.Edge) (string, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[edge.ID]; ok {
		return "", fmt.Errorf("blockflow: insert edge: duplicate id %s", edge.ID)
	}
	for _, end := range []string{edge.Source, edge.Target} {
		if _, ok := s.nodes[end]; !ok {
			return "", fmt.Errorf("blockflow: insert edge: %w: %s", blockflow.ErrNodeNotFound, end)
		}
	}
	s.putEdgeLocked(canvasID, *edge)
	return edge.ID, nil
}

func (s *Store) putEdgeLocked(canvasID string, e blockflow.Edge) {
	e.SourceRef, e.TargetRef = "", ""
	e.Data = clone(e.Data)
	if _, ok := s.edges[e.ID]; !ok {
		s.edgeOrder = append(s.edgeOrder, e.ID)
	}
	s.edges[e.ID] = &edgeRow{canvasID: canvasID, edge: e}
}

// GetEdge returns nil, nil if not found.
func (s *Store) GetEdge(_ context.Context, edgeID string) (*blockflow.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.edges[edgeID]
	if !ok {
		return nil, nil
	}
	e := r.edge
	e.Data = clone(e.Data)
	return &e, nil
}

func (s *Store) DeleteEdge(_ context.Context, edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteEdgeLocked(edgeID)
	return nil
}

func (s *Store) deleteEdgeLocked(edgeID string) {
	if _, ok := s.edges[edgeID]; !ok {
		return
	}
	delete(s.edges, edgeID)
	s.edgeOrder = slices.DeleteFunc(s.edgeOrder, func(id string) bool { return id == edgeID })
}

func (s *Store) ListEdges(_ context.Context, canvasID string) ([]blockflow.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEdgesLocked(canvasID), nil
}

func (s *Store) listEdgesLocked(canvasID string) []blockflow.Edge {
	out := []blockflow.Edge{}
	for _, id := range s.edgeOrder {
		if r := s.edges[id]; r.canvasID == canvasID {
			e := r.edge
			e.Data = clone(e.Data)
			out = append(out, e)
		}
	}
	return out
}

// ── Schedules ─────────────────────────────────────────────────────

func (s *Store) UpsertSchedule(_ context.Context, sc *blockflow.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.UpdatedAt = s.now().UTC()
	s.schedules[scheduleKey{sc.DashboardID, sc.ItemID}] = copySchedule(*sc)
	return nil
}

// GetSchedule returns nil, nil if not found.
func (s *Store) GetSchedule(_ context.Context, dashboardID, itemID string) (*blockflow.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[scheduleKey{dashboardID, itemID}]
	if !ok {
		return nil, nil
	}
	sc = copySchedule(sc)
	return &sc, nil
}

func (s *Store) DeleteSchedule(_ context.Context, dashboardID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, scheduleKey{dashboardID, itemID})
	return nil
}

// DueSchedules returns enabled schedules with NextRunAt at or before now,
// oldest first.
func (s *Store) DueSchedules(_ context.Context, now time.Time) ([]blockflow.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []blockflow.Schedule{}
	for _, sc := range s.schedules {
		if sc.Enabled && sc.NextRunAt != nil && !sc.NextRunAt.After(now) {
			out = append(out, copySchedule(sc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.NextRunAt.Equal(*b.NextRunAt) {
			return a.NextRunAt.Before(*b.NextRunAt)
		}
		if a.DashboardID != b.DashboardID {
			return a.DashboardID < b.DashboardID
		}
		return a.ItemID < b.ItemID
	})
	return out, nil
}

func (s *Store) AdvanceSchedule(_ context.Context, dashboardID, itemID string, due time.Time, next, last *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scheduleKey{dashboardID, itemID}
	sc, ok := s.schedules[k]
	if !ok || !sc.Enabled || sc.NextRunAt == nil || !sc.NextRunAt.Equal(due) {
		return false, nil
	}
	sc.NextRunAt = copyTime(next)
	sc.Enabled = next != nil
	if last != nil {
		sc.LastRunAt = copyTime(last)
	}
	sc.UpdatedAt = s.now().UTC()
	s.schedules[k] = sc
	return true, nil
}

func (s *Store) AddExecution(_ context.Context, e *blockflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.execs {
		if x.ID == e.ID {
			return fmt.Errorf("blockflow: insert execution: duplicate id %s", e.ID)
		}
	}
	s.execs = append(s.execs, copyExecution(*e))
	return nil
}

func (s *Store) UpdateExecution(_ context.Context, e *blockflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.execs {
		if s.execs[i].ID == e.ID {
			s.execs[i].Status = e.Status
			s.execs[i].FinishedAt = copyTime(e.FinishedAt)
			s.execs[i].Error = e.Error
			return nil
		}
	}
	return fmt.Errorf("%w: execution %s", blockflow.ErrScheduleNotFound, e.ID)
}

// ListExecutions returns newest first; ties keep the most recently added
// first. A non-positive limit returns all of them.
func (s *Store) ListExecutions(_ context.Context, dashboardID, itemID string, limit int) ([]blockflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []blockflow.Execution{}
	for i := len(s.execs) - 1; i >= 0; i-- {
		e := s.execs[i]
		if e.DashboardID == dashboardID && e.ItemID == itemID {
			out = append(out, copyExecution(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copySchedule(sc blockflow.Schedule) blockflow.Schedule {
	sc.NextRunAt = copyTime(sc.NextRunAt)
	sc.LastRunAt = copyTime(sc.LastRunAt)
	return sc
}

func copyExecution(e blockflow.Execution) blockflow.Execution {
	e.FinishedAt = copyTime(e.FinishedAt)
	return e
}
