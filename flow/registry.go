// Package flow is the dataflow substrate of a canvas: the handle registry,
// the live edge list, the dispatch bus that delivers payloads along wires,
// and the connectivity index blocks use to derive topology-dependent
// behavior.
package flow

import (
	"context"
	"sync"

	"github.com/meikuraledutech/blockflow"
)

// Callback receives a payload delivered to an input handle. The payload is
// shared with every other target of the same fire and must not be mutated.
type Callback func(ctx context.Context, p blockflow.Payload)

type handleKey struct {
	node   string
	handle blockflow.HandleID
}

type registration struct {
	cb Callback
}

// Registry maps (nodeID, handleID) to at most one input callback.
// Register, the returned unregister func and ReleaseNode are the only
// mutation points.
type Registry struct {
	mu      sync.RWMutex
	entries map[handleKey]*registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[handleKey]*registration)}
}

// Register installs cb for the handle, replacing any prior callback. The
// returned func removes this registration; it is idempotent and does nothing
// once the registration has been replaced by a newer one.
func (r *Registry) Register(nodeID string, handleID blockflow.HandleID, cb Callback) (unregister func()) {
	k := handleKey{nodeID, handleID}
	reg := &registration{cb: cb}

	r.mu.Lock()
	r.entries[k] = reg
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.entries[k] == reg {
				delete(r.entries, k)
			}
		})
	}
}

// Lookup returns the callback registered for the handle.
func (r *Registry) Lookup(nodeID string, handleID blockflow.HandleID) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[handleKey{nodeID, handleID}]
	if !ok {
		return nil, false
	}
	return reg.cb, true
}

// ReleaseNode removes every registration belonging to nodeID.
func (r *Registry) ReleaseNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if k.node == nodeID {
			delete(r.entries, k)
		}
	}
}

// Handles returns the registered handle ids of nodeID.
func (r *Registry) Handles(nodeID string) []blockflow.HandleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []blockflow.HandleID
	for k := range r.entries {
		if k.node == nodeID {
			out = append(out, k.handle)
		}
	}
	return out
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
