package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
)

// DefaultWindow is the debounce window for content edits.
const DefaultWindow = 800 * time.Millisecond

// Sink receives committed block content. client.ContentClient and every
// blockflow.Store satisfy it.
type Sink interface {
	SaveContent(ctx context.Context, nodeID string, data json.RawMessage) error
}

// Bridge is the one-way local→remote content sync for a canvas. Each node
// has its own debounce window; failures are recorded per node and not
// retried.
type Bridge struct {
	sink    Sink
	window  time.Duration
	clock   clock.Clock
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*Debouncer[json.RawMessage]
	errs    map[string]error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) BridgeOption { return func(b *Bridge) { b.window = d } }

// WithClock sets the clock driving debounce timers.
func WithClock(c clock.Clock) BridgeOption { return func(b *Bridge) { b.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BridgeOption { return func(b *Bridge) { b.log = l } }

// WithTimeout bounds each sink call.
func WithTimeout(d time.Duration) BridgeOption { return func(b *Bridge) { b.timeout = d } }

// NewBridge creates a Bridge writing to sink.
func NewBridge(sink Sink, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		sink:    sink,
		window:  DefaultWindow,
		log:     slog.Default(),
		timeout: 10 * time.Second,
		pending: make(map[string]*Debouncer[json.RawMessage]),
		errs:    make(map[string]error),
	}
	for _, o := range opts {
		o(b)
	}
	b.clock = clock.Or(b.clock)
	return b
}

// Update schedules data as nodeID's new content. Only the last update within
// a window reaches the sink.
func (b *Bridge) Update(nodeID string, data json.RawMessage) {
	b.debouncer(nodeID).Call(data)
}

func (b *Bridge) debouncer(nodeID string) *Debouncer[json.RawMessage] {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.pending[nodeID]
	if !ok {
		d = NewDebouncer(b.window, b.clock, func(data json.RawMessage) { b.save(nodeID, data) })
		b.pending[nodeID] = d
	}
	return d
}

func (b *Bridge) save(nodeID string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	err := b.sink.SaveContent(ctx, nodeID, data)

	b.mu.Lock()
	if err != nil {
		b.errs[nodeID] = err
	} else {
		delete(b.errs, nodeID)
	}
	b.mu.Unlock()

	if err != nil {
		b.log.Warn("persist: content sync failed", "node", nodeID, "error", err)
		return
	}
	b.log.Debug("persist: content synced", "node", nodeID, "bytes", len(data))
}

// LastError returns the error of nodeID's most recent sync, or nil.
func (b *Bridge) LastError(nodeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errs[nodeID]
}

// Flush sends nodeID's pending content immediately.
func (b *Bridge) Flush(nodeID string) {
	b.mu.Lock()
	d, ok := b.pending[nodeID]
	b.mu.Unlock()
	if ok {
		d.Flush()
	}
}

// Forget cancels nodeID's pending sync, e.g. when its block is deleted.
func (b *Bridge) Forget(nodeID string) {
	b.mu.Lock()
	d, ok := b.pending[nodeID]
	delete(b.pending, nodeID)
	delete(b.errs, nodeID)
	b.mu.Unlock()
	if ok {
		d.Stop()
	}
}

// Close flushes every pending sync.
func (b *Bridge) Close() {
	b.mu.Lock()
	ds := make([]*Debouncer[json.RawMessage], 0, len(b.pending))
	for _, d := range b.pending {
		ds = append(ds, d)
	}
	b.mu.Unlock()
	for _, d := range ds {
		d.Flush()
	}
}
