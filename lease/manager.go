// Package lease reference-counts shared external resources (the remote
// browser session of a dashboard) across block instances that mount and
// unmount independently.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
)

// DefaultGracePeriod is how long a resource outlives its last lessee.
const DefaultGracePeriod = 5 * time.Second

// Controller starts and stops the resource behind a key. Both calls are
// expected to be idempotent on the remote side.
type Controller interface {
	Start(ctx context.Context, key string) error
	Stop(ctx context.Context, key string) error
}

type lease struct {
	count    int
	teardown clock.Timer
	startErr error
	// stopping is closed once an in-flight Stop returns.
	stopping chan struct{}
}

// Manager holds one lease per key. The resource is started on the first
// Acquire and stopped GracePeriod after the count drops back to zero, unless
// another Acquire arrives first.
type Manager struct {
	ctrl  Controller
	clock clock.Clock
	log   *slog.Logger

	// GracePeriod delays teardown after the last Release.
	GracePeriod time.Duration
	// CallTimeout bounds each Start/Stop call.
	CallTimeout time.Duration

	mu     sync.Mutex
	leases map[string]*lease
}

// NewManager creates a Manager driving ctrl. A nil clock or logger uses the
// defaults.
func NewManager(ctrl Controller, c clock.Clock, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		ctrl:        ctrl,
		clock:       clock.Or(c),
		log:         log,
		GracePeriod: DefaultGracePeriod,
		CallTimeout: 30 * time.Second,
		leases:      make(map[string]*lease),
	}
}

// Acquire takes a lease on key. The first lessee starts the resource and
// receives the start error, if any; later lessees cancel a pending teardown
// and reuse the running resource.
func (m *Manager) Acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	l, ok := m.leases[key]
	for ok && l.stopping != nil {
		done := l.stopping
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		m.mu.Lock()
		l, ok = m.leases[key]
	}
	if ok {
		l.count++
		if l.teardown != nil {
			l.teardown.Stop()
			l.teardown = nil
			m.log.Debug("lease: teardown cancelled", "key", key, "count", l.count)
		}
		err := l.startErr
		m.mu.Unlock()
		return err
	}
	l = &lease{count: 1}
	m.leases[key] = l
	m.mu.Unlock()

	m.log.Info("lease: starting resource", "key", key)
	return m.start(ctx, key, l)
}

func (m *Manager) start(ctx context.Context, key string, l *lease) error {
	ctx, cancel := context.WithTimeout(ctx, m.CallTimeout)
	defer cancel()
	err := m.ctrl.Start(ctx, key)

	m.mu.Lock()
	l.startErr = err
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("lease: start failed", "key", key, "error", err)
	}
	return err
}

// Retry re-issues the start call for a held lease whose start failed.
// It is a no-op when key has no lease or its resource is being stopped.
func (m *Manager) Retry(ctx context.Context, key string) error {
	m.mu.Lock()
	l, ok := m.leases[key]
	stopping := ok && l.stopping != nil
	m.mu.Unlock()
	if !ok || stopping {
		return nil
	}
	return m.start(ctx, key, l)
}

// Release gives back one lease on key. When the count reaches zero a
// teardown is scheduled after GracePeriod. Releasing a key with no lease
// does nothing.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok || l.count == 0 {
		return
	}
	l.count--
	if l.count > 0 {
		return
	}
	m.log.Debug("lease: scheduling teardown", "key", key, "grace", m.GracePeriod)
	l.teardown = m.clock.AfterFunc(m.GracePeriod, func() { m.teardown(key, l) })
}

// teardown stops the resource. The record stays in place, marked stopping,
// until Stop returns so that an Acquire arriving meanwhile waits and then
// starts a fresh resource instead of racing the stop.
func (m *Manager) teardown(key string, l *lease) {
	m.mu.Lock()
	if m.leases[key] != l || l.count > 0 || l.teardown == nil || l.stopping != nil {
		m.mu.Unlock()
		return
	}
	l.teardown = nil
	l.stopping = make(chan struct{})
	m.mu.Unlock()

	m.log.Info("lease: stopping resource", "key", key)
	ctx, cancel := context.WithTimeout(context.Background(), m.CallTimeout)
	err := m.ctrl.Stop(ctx, key)
	cancel()
	if err != nil {
		m.log.Warn("lease: stop failed", "key", key, "error", err)
	}

	m.mu.Lock()
	if m.leases[key] == l {
		delete(m.leases, key)
	}
	close(l.stopping)
	m.mu.Unlock()
}

// Count returns the number of outstanding leases on key.
func (m *Manager) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.stopping == nil {
		return l.count
	}
	return 0
}

// Held reports whether a lease record exists for key, including one
// waiting out its grace period or being stopped.
func (m *Manager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.leases[key]
	return ok
}
