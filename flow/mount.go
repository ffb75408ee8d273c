package flow

import (
	"sync"

	"github.com/meikuraledutech/blockflow"
)

// Mount tracks the input callbacks one block instance has registered so
// they can be reconciled against its currently visible handles and all
// released on unmount.
type Mount struct {
	registry *Registry
	nodeID   string

	mu     sync.Mutex
	unregs map[blockflow.HandleID]func()
	closed bool
}

// NewMount creates a Mount for nodeID.
func NewMount(registry *Registry, nodeID string) *Mount {
	return &Mount{registry: registry, nodeID: nodeID, unregs: make(map[blockflow.HandleID]func())}
}

// Sync makes the registered handles exactly the keys of want. Handles that
// are no longer wanted are unregistered in the same call, and wanted ones are
// (re)registered with the given callback.
func (m *Mount) Sync(want map[blockflow.HandleID]Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for h, unreg := range m.unregs {
		if _, ok := want[h]; !ok {
			unreg()
			delete(m.unregs, h)
		}
	}
	// Register replaces in place; the superseded unregister becomes a no-op.
	for h, cb := range want {
		m.unregs[h] = m.registry.Register(m.nodeID, h, cb)
	}
}

// Registered returns the handles this mount currently holds.
func (m *Mount) Registered() HandleSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(HandleSet, len(m.unregs))
	for h := range m.unregs {
		out[h] = struct{}{}
	}
	return out
}

// Close unregisters everything. Further Sync calls are ignored.
func (m *Mount) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, unreg := range m.unregs {
		unreg()
		delete(m.unregs, h)
	}
	m.closed = true
}
