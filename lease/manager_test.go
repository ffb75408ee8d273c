package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu       sync.Mutex
	starts   map[string]int
	stops    map[string]int
	startErr error
	statuses []Status
	polls    int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{starts: map[string]int{}, stops: map[string]int{}}
}

func (f *fakeSessions) Start(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[key]++
	return f.startErr
}

func (f *fakeSessions) Stop(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[key]++
	return nil
}

func (f *fakeSessions) Status(context.Context, string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i < len(f.statuses) {
		return f.statuses[i], nil
	}
	return Status{}, errors.New("status unavailable")
}

func (f *fakeSessions) counts(key string) (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[key], f.stops[key]
}

func newTestManager() (*Manager, *fakeSessions, *clock.Manual) {
	clk := clock.NewManual(time.Unix(0, 0))
	api := newFakeSessions()
	m := NewManager(api, clk, nil)
	m.GracePeriod = 5 * time.Second
	return m, api, clk
}

func TestAcquireReleaseStartsAndStopsOnce(t *testing.T) {
	m, api, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "dash"))
	require.NoError(t, m.Acquire(ctx, "dash"))
	assert.Equal(t, 2, m.Count("dash"))

	m.Release("dash")
	m.Release("dash")
	starts, stops := api.counts("dash")
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops, "teardown waits for the grace period")

	clk.Advance(4 * time.Second)
	_, stops = api.counts("dash")
	assert.Equal(t, 0, stops)

	clk.Advance(time.Second)
	starts, stops = api.counts("dash")
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, m.Held("dash"))
}

func TestAcquireDuringGraceReusesSession(t *testing.T) {
	m, api, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "dash"))
	m.Release("dash")
	clk.Advance(3 * time.Second)

	require.NoError(t, m.Acquire(ctx, "dash"))
	clk.Advance(time.Minute)

	starts, stops := api.counts("dash")
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.Equal(t, 0, clk.Pending())

	m.Release("dash")
	clk.Advance(5 * time.Second)
	_, stops = api.counts("dash")
	assert.Equal(t, 1, stops)
}

// slowStop records calls in order and holds Stop until released.
type slowStop struct {
	mu      sync.Mutex
	calls   []string
	entered chan struct{}
	release chan struct{}
}

func (s *slowStop) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *slowStop) Start(context.Context, string) error {
	s.record("start")
	return nil
}

func (s *slowStop) Stop(context.Context, string) error {
	close(s.entered)
	<-s.release
	s.record("stop")
	return nil
}

func (s *slowStop) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestAcquireDuringStopRestartsAfterIt(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ctrl := &slowStop{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(ctrl, clk, nil)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "dash"))
	m.Release("dash")

	tornDown := make(chan struct{})
	go func() {
		defer close(tornDown)
		clk.Advance(DefaultGracePeriod)
	}()
	<-ctrl.entered
	assert.True(t, m.Held("dash"))
	assert.Equal(t, 0, m.Count("dash"))

	acquired := make(chan error, 1)
	go func() { acquired <- m.Acquire(ctx, "dash") }()
	assert.Never(t, func() bool { return len(acquired) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"acquire waits for the stop in flight")

	close(ctrl.release)
	require.NoError(t, <-acquired)
	<-tornDown

	assert.Equal(t, []string{"start", "stop", "start"}, ctrl.log())
	assert.Equal(t, 1, m.Count("dash"))
	assert.Equal(t, 0, clk.Pending())
}

func TestAcquireDuringStopHonorsContext(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ctrl := &slowStop{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(ctrl, clk, nil)

	require.NoError(t, m.Acquire(context.Background(), "dash"))
	m.Release("dash")
	go clk.Advance(DefaultGracePeriod)
	<-ctrl.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Acquire(ctx, "dash"), context.Canceled)

	close(ctrl.release)
	assert.Eventually(t, func() bool { return !m.Held("dash") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start", "stop"}, ctrl.log())
}

func TestReleaseWithoutLeaseIsNoop(t *testing.T) {
	m, api, clk := newTestManager()

	m.Release("nobody")
	clk.Advance(time.Minute)

	_, stops := api.counts("nobody")
	assert.Equal(t, 0, stops)
	assert.Equal(t, 0, m.Count("nobody"))
}

func TestCountNeverNegative(t *testing.T) {
	m, api, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "dash"))
	m.Release("dash")
	m.Release("dash")
	m.Release("dash")
	assert.Equal(t, 0, m.Count("dash"))

	clk.Advance(5 * time.Second)
	_, stops := api.counts("dash")
	assert.Equal(t, 1, stops)
}

func TestLeasesAreKeyed(t *testing.T) {
	m, api, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "a"))
	require.NoError(t, m.Acquire(ctx, "b"))
	m.Release("a")
	clk.Advance(5 * time.Second)

	_, stopsA := api.counts("a")
	_, stopsB := api.counts("b")
	assert.Equal(t, 1, stopsA)
	assert.Equal(t, 0, stopsB)
	assert.Equal(t, 1, m.Count("b"))
}

func TestStartFailureIsSurfacedAndRetriable(t *testing.T) {
	m, api, _ := newTestManager()
	ctx := context.Background()
	api.startErr = errors.New("no capacity")

	assert.EqualError(t, m.Acquire(ctx, "dash"), "no capacity")
	assert.EqualError(t, m.Acquire(ctx, "dash"), "no capacity", "second lessee sees the recorded failure")

	api.mu.Lock()
	api.startErr = nil
	api.mu.Unlock()

	require.NoError(t, m.Retry(ctx, "dash"))
	assert.NoError(t, m.Acquire(ctx, "dash"))
	starts, _ := api.counts("dash")
	assert.Equal(t, 2, starts)

	assert.NoError(t, m.Retry(ctx, "unknown"))
}

func TestPollerWaitsForReady(t *testing.T) {
	api := newFakeSessions()
	api.statuses = []Status{{Running: true}, {Running: true}, {Running: true, Ready: true}}
	p := NewPoller(api, nil)
	p.Interval = time.Millisecond
	p.MaxAttempts = 5

	require.NoError(t, p.WaitReady(context.Background(), "dash"))
	assert.Equal(t, 3, api.polls)
}

func TestPollerGivesUpAfterMaxAttempts(t *testing.T) {
	api := newFakeSessions()
	api.statuses = []Status{{Running: true}, {Running: true}}
	p := NewPoller(api, nil)
	p.Interval = time.Millisecond
	p.MaxAttempts = 4

	err := p.WaitReady(context.Background(), "dash")
	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 4, api.polls)
}

func TestPollerStopsOnCancel(t *testing.T) {
	api := newFakeSessions()
	p := NewPoller(api, nil)
	p.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.WaitReady(ctx, "dash"), context.Canceled)
	assert.Equal(t, 1, api.polls)
}
