package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/clock"
	"github.com/meikuraledutech/blockflow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTiming(t *testing.T) {
	tests := []struct {
		name  string
		sc    blockflow.Schedule
		after time.Time
		want  time.Time
	}{
		{"interval", blockflow.Schedule{IntervalSeconds: 90}, epoch, epoch.Add(90 * time.Second)},
		{"cron", blockflow.Schedule{Cron: "*/5 * * * *"}, epoch.Add(time.Minute), epoch.Add(5 * time.Minute)},
		{"cron wins", blockflow.Schedule{Cron: "@hourly", IntervalSeconds: 10}, epoch, epoch.Add(time.Hour)},
		{"every descriptor", blockflow.Schedule{Cron: "@every 30s"}, epoch, epoch.Add(30 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timing, err := Timing(&tt.sc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, timing.Next(tt.after))
		})
	}

	_, err := Timing(&blockflow.Schedule{Cron: "every tuesday"})
	assert.ErrorIs(t, err, blockflow.ErrInvalidSchedule)
	_, err = Timing(&blockflow.Schedule{})
	assert.ErrorIs(t, err, blockflow.ErrInvalidSchedule)
}

func newFixture(runner Runner) (*Scheduler, *memory.Store, *clock.Manual) {
	store := memory.New()
	clk := clock.NewManual(epoch)
	return New(store, runner, WithClock(clk)), store, clk
}

func TestSaveComputesNextRun(t *testing.T) {
	s, store, _ := newFixture(nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 60, Enabled: true}))
	got, _ := store.GetSchedule(ctx, "d", "i")
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, epoch.Add(time.Minute), *got.NextRunAt)

	require.NoError(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 60}))
	got, _ = store.GetSchedule(ctx, "d", "i")
	assert.Nil(t, got.NextRunAt, "disabled schedules never come due")

	assert.ErrorIs(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", Cron: "nope"}), blockflow.ErrInvalidSchedule)
	assert.ErrorIs(t, s.Save(ctx, &blockflow.Schedule{ItemID: "i", IntervalSeconds: 1}), blockflow.ErrInvalidSchedule)
}

func TestRunOnceExecutesDueSchedules(t *testing.T) {
	var runs atomic.Int32
	s, store, clk := newFixture(RunnerFunc(func(_ context.Context, sc blockflow.Schedule, _ blockflow.Execution) error {
		assert.Equal(t, "go", sc.Payload.Text)
		runs.Add(1)
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &blockflow.Schedule{
		DashboardID: "d", ItemID: "i", IntervalSeconds: 60, Enabled: true,
		Payload: blockflow.Payload{Text: "go", Execute: true},
	}))

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	clk.Advance(time.Minute)
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = s.RunOnce(ctx)
	assert.Zero(t, n, "one execution per due time")
	s.Wait()

	assert.Equal(t, int32(1), runs.Load())
	execs, _ := store.ListExecutions(ctx, "d", "i", 10)
	require.Len(t, execs, 1)
	assert.Equal(t, blockflow.StatusCompleted, execs[0].Status)
	assert.Equal(t, blockflow.TriggeredBySchedule, execs[0].TriggeredBy)
	assert.NotNil(t, execs[0].FinishedAt)

	sc, _ := store.GetSchedule(ctx, "d", "i")
	assert.Equal(t, epoch.Add(2*time.Minute), *sc.NextRunAt)
	assert.Equal(t, epoch.Add(time.Minute), *sc.LastRunAt)
}

func TestMissedRunsAreNotReplayed(t *testing.T) {
	s, store, clk := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 60, Enabled: true}))

	clk.Advance(10 * time.Minute)
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.Wait()

	sc, _ := store.GetSchedule(ctx, "d", "i")
	assert.Equal(t, epoch.Add(11*time.Minute), *sc.NextRunAt)
}

func TestExecutionOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		runner RunnerFunc
		want   blockflow.ExecutionStatus
		errMsg string
	}{
		{"failed", func(context.Context, blockflow.Schedule, blockflow.Execution) error {
			return errors.New("flow broke")
		}, blockflow.StatusFailed, "flow broke"},
		{"timed out", func(ctx context.Context, _ blockflow.Schedule, _ blockflow.Execution) error {
			<-ctx.Done()
			return ctx.Err()
		}, blockflow.StatusTimedOut, context.DeadlineExceeded.Error()},
		{"panic", func(context.Context, blockflow.Schedule, blockflow.Execution) error {
			panic("kaboom")
		}, blockflow.StatusFailed, "scheduler: runner panic: kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _ := newFixture(tt.runner)
			s.ExecutionTimeout = 20 * time.Millisecond
			ctx := context.Background()
			require.NoError(t, store.UpsertSchedule(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 1}))

			exec, err := s.Trigger(ctx, "d", "i")
			require.NoError(t, err)
			assert.Equal(t, blockflow.StatusQueued, exec.Status)
			s.Wait()

			execs, _ := store.ListExecutions(ctx, "d", "i", 1)
			require.Len(t, execs, 1)
			assert.Equal(t, tt.want, execs[0].Status)
			assert.Equal(t, tt.errMsg, execs[0].Error)
			assert.Equal(t, blockflow.TriggeredByManual, execs[0].TriggeredBy)
		})
	}
}

func TestTriggerUnknownSchedule(t *testing.T) {
	s, _, _ := newFixture(nil)
	_, err := s.Trigger(context.Background(), "d", "missing")
	assert.ErrorIs(t, err, blockflow.ErrScheduleNotFound)
}

func TestInvalidStoredScheduleIsDisabled(t *testing.T) {
	s, store, _ := newFixture(nil)
	ctx := context.Background()
	past := epoch.Add(-time.Second)
	require.NoError(t, store.UpsertSchedule(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", Cron: "bad", Enabled: true, NextRunAt: &past}))

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	sc, _ := store.GetSchedule(ctx, "d", "i")
	assert.False(t, sc.Enabled)
}

// editingStore applies edit once, right after the scheduler has read the
// due schedules.
type editingStore struct {
	*memory.Store
	edit func()
}

func (e *editingStore) DueSchedules(ctx context.Context, now time.Time) ([]blockflow.Schedule, error) {
	due, err := e.Store.DueSchedules(ctx, now)
	if e.edit != nil {
		e.edit()
		e.edit = nil
	}
	return due, err
}

func TestRunOnceKeepsConcurrentEdits(t *testing.T) {
	tests := []struct {
		name  string
		edit  blockflow.Schedule
		check func(t *testing.T, sc *blockflow.Schedule)
	}{
		{"disabled", blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 60},
			func(t *testing.T, sc *blockflow.Schedule) {
				assert.False(t, sc.Enabled)
				assert.Nil(t, sc.NextRunAt)
			}},
		{"new cron", blockflow.Schedule{DashboardID: "d", ItemID: "i", Cron: "@hourly", Enabled: true},
			func(t *testing.T, sc *blockflow.Schedule) {
				assert.Equal(t, "@hourly", sc.Cron)
				assert.Equal(t, epoch.Add(time.Hour), *sc.NextRunAt)
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &editingStore{Store: memory.New()}
			clk := clock.NewManual(epoch)
			s := New(store, nil, WithClock(clk))
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", IntervalSeconds: 60, Enabled: true}))
			clk.Advance(time.Minute)

			store.edit = func() {
				edit := tt.edit
				require.NoError(t, s.Save(ctx, &edit))
			}
			n, err := s.RunOnce(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "the edited schedule is skipped this tick")
			s.Wait()

			sc, _ := store.GetSchedule(ctx, "d", "i")
			require.NotNil(t, sc)
			tt.check(t, sc)
			assert.Nil(t, sc.LastRunAt)
			execs, _ := store.ListExecutions(ctx, "d", "i", 0)
			assert.Empty(t, execs)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	var runs atomic.Int32
	s := New(store, RunnerFunc(func(context.Context, blockflow.Schedule, blockflow.Execution) error {
		runs.Add(1)
		return nil
	}))
	s.Tick = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Save(ctx, &blockflow.Schedule{DashboardID: "d", ItemID: "i", Cron: "@every 1s", Enabled: true}))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
