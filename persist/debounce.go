// Package persist commits block content to the backend: edits are debounced
// locally and only the last value of a burst is sent.
package persist

import (
	"sync"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
)

// Debouncer collapses calls made within Window of each other into a single
// trailing call carrying the last value.
type Debouncer[T any] struct {
	window time.Duration
	clock  clock.Clock
	fn     func(T)

	mu      sync.Mutex
	timer   clock.Timer
	pending T
	armed   bool
	gen     int
}

// NewDebouncer returns a Debouncer that calls fn window after the last Call.
func NewDebouncer[T any](window time.Duration, c clock.Clock, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{window: window, clock: clock.Or(c), fn: fn}
}

// Call records v and restarts the window.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = v
	d.armed = true
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen int) {
	d.mu.Lock()
	if !d.armed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Flush runs the pending call now, if any.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v := d.pending
	d.armed = false
	d.gen++
	d.mu.Unlock()

	d.fn(v)
}

// Stop drops the pending call.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
	d.gen++
}

// Pending reports whether a call is waiting for its window to close.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}
