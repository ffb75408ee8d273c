package flow

import "github.com/meikuraledutech/blockflow"

// HandleSet is a set of handle ids.
type HandleSet map[blockflow.HandleID]struct{}

// Has reports whether h is in the set.
func (s HandleSet) Has(h blockflow.HandleID) bool {
	_, ok := s[h]
	return ok
}

// Wiring returns, for each handle of nodeID that appears in edges, the
// directions it is actually wired in.
func Wiring(nodeID string, edges []blockflow.Edge) map[blockflow.HandleID]blockflow.Direction {
	out := make(map[blockflow.HandleID]blockflow.Direction)
	for _, e := range edges {
		if e.Source == nodeID {
			out[e.SourceHandle] |= blockflow.Out
		}
		if e.Target == nodeID {
			out[e.TargetHandle] |= blockflow.In
		}
	}
	return out
}

// ConnectedHandles returns the handles of nodeID that participate in at
// least one edge in their declared direction: "-out" handles as a source,
// "-in" handles as a target, anything else in either role.
func ConnectedHandles(nodeID string, edges []blockflow.Edge) HandleSet {
	out := make(HandleSet)
	for h, wired := range Wiring(nodeID, edges) {
		if wired&h.Direction() != 0 {
			out[h] = struct{}{}
		}
	}
	return out
}

// OutgoingCount returns how many edges leave (nodeID, handleID).
func OutgoingCount(nodeID string, handleID blockflow.HandleID, edges []blockflow.Edge) int {
	n := 0
	for _, e := range edges {
		if e.Source == nodeID && e.SourceHandle == handleID {
			n++
		}
	}
	return n
}

// HandlePair is one logical connection point that can show a second
// handle of the opposite direction next to the primary one.
type HandlePair struct {
	Primary   blockflow.HandleID
	Secondary blockflow.HandleID
}

// VisibleHandles returns the handles of nodeID to show. A primary handle is
// always visible; its secondary appears only while the primary or the
// secondary itself is wired. The result depends on edges alone.
func VisibleHandles(nodeID string, edges []blockflow.Edge, pairs []HandlePair) HandleSet {
	connected := ConnectedHandles(nodeID, edges)
	out := make(HandleSet, len(pairs)*2)
	for _, p := range pairs {
		out[p.Primary] = struct{}{}
		if p.Secondary == "" {
			continue
		}
		if connected.Has(p.Primary) || connected.Has(p.Secondary) {
			out[p.Secondary] = struct{}{}
		}
	}
	return out
}
