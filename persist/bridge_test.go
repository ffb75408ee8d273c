package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saved struct {
	node string
	data string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []saved
	err   error
}

func (s *fakeSink) SaveContent(_ context.Context, nodeID string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, saved{nodeID, string(data)})
	return s.err
}

func (s *fakeSink) saved() []saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saved(nil), s.calls...)
}

func TestDebouncerCollapsesBurst(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var got []int
	d := NewDebouncer(100*time.Millisecond, clk, func(v int) { got = append(got, v) })

	for i := 1; i <= 5; i++ {
		d.Call(i)
		clk.Advance(50 * time.Millisecond)
	}
	assert.Empty(t, got)

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, []int{5}, got)
	assert.False(t, d.Pending())
}

func TestDebouncerFlushAndStop(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var got []string
	d := NewDebouncer(time.Second, clk, func(v string) { got = append(got, v) })

	d.Call("a")
	d.Flush()
	assert.Equal(t, []string{"a"}, got)

	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"a"}, got)

	d.Call("b")
	d.Stop()
	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"a"}, got)

	d.Flush()
	assert.Equal(t, []string{"a"}, got)
}

func TestBridgeSendsLastValueOnce(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &fakeSink{}
	b := NewBridge(sink, WithClock(clk), WithWindow(500*time.Millisecond))

	for _, v := range []string{`{"text":"h"}`, `{"text":"he"}`, `{"text":"hel"}`, `{"text":"hello"}`} {
		b.Update("n1", json.RawMessage(v))
		clk.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, sink.saved())

	clk.Advance(500 * time.Millisecond)
	require.Len(t, sink.saved(), 1)
	assert.Equal(t, saved{"n1", `{"text":"hello"}`}, sink.saved()[0])
}

func TestBridgeDebouncesPerNode(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &fakeSink{}
	b := NewBridge(sink, WithClock(clk), WithWindow(time.Second))

	b.Update("a", json.RawMessage(`1`))
	b.Update("b", json.RawMessage(`2`))
	b.Update("a", json.RawMessage(`3`))
	clk.Advance(time.Second)

	assert.ElementsMatch(t, []saved{{"a", "3"}, {"b", "2"}}, sink.saved())
}

func TestBridgeRecordsFailure(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &fakeSink{err: errors.New("backend down")}
	b := NewBridge(sink, WithClock(clk), WithWindow(time.Second))

	b.Update("a", json.RawMessage(`{}`))
	clk.Advance(time.Second)
	assert.EqualError(t, b.LastError("a"), "backend down")

	sink.err = nil
	b.Update("a", json.RawMessage(`{}`))
	b.Flush("a")
	assert.NoError(t, b.LastError("a"))
	assert.Len(t, sink.saved(), 2)
}

func TestBridgeForgetAndClose(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &fakeSink{}
	b := NewBridge(sink, WithClock(clk))

	b.Update("gone", json.RawMessage(`1`))
	b.Forget("gone")
	b.Update("kept", json.RawMessage(`2`))
	b.Close()
	clk.Advance(time.Minute)

	assert.Equal(t, []saved{{"kept", "2"}}, sink.saved())
}
