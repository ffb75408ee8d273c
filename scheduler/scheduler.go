// Package scheduler is the server-side authority for persisted schedules.
// It turns due schedules into execution records and runs them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/google/uuid"
	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/clock"
	"github.com/robfig/cron/v3"
)

const (
	DefaultTick             = 10 * time.Second
	DefaultExecutionTimeout = 5 * time.Minute
)

// Runner performs one execution of a schedule.
type Runner interface {
	Run(ctx context.Context, sc blockflow.Schedule, exec blockflow.Execution) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, sc blockflow.Schedule, exec blockflow.Execution) error

func (f RunnerFunc) Run(ctx context.Context, sc blockflow.Schedule, exec blockflow.Execution) error {
	return f(ctx, sc, exec)
}

// parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 90s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Timing returns the cron.Schedule driving sc. Cron takes precedence over
// IntervalSeconds; a schedule with neither is invalid.
func Timing(sc *blockflow.Schedule) (cron.Schedule, error) {
	if sc.Cron != "" {
		spec, err := parser.Parse(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: cron %q: %w", blockflow.ErrInvalidSchedule, sc.Cron, err)
		}
		return spec, nil
	}
	if sc.IntervalSeconds > 0 {
		return cron.Every(time.Duration(sc.IntervalSeconds) * time.Second), nil
	}
	return nil, fmt.Errorf("%w: needs a cron expression or a positive interval", blockflow.ErrInvalidSchedule)
}

// Scheduler polls a ScheduleStore for due schedules.
type Scheduler struct {
	store  blockflow.ScheduleStore
	runner Runner
	clock  clock.Clock
	log    *slog.Logger

	// Tick is the polling cadence of Run.
	Tick time.Duration
	// ExecutionTimeout bounds a single Runner call; runs that exceed it are
	// recorded as timed out.
	ExecutionTimeout time.Duration

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// New creates a Scheduler. A nil runner only records executions.
func New(store blockflow.ScheduleStore, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:            store,
		runner:           runner,
		log:              slog.Default(),
		Tick:             DefaultTick,
		ExecutionTimeout: DefaultExecutionTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.clock = clock.Or(s.clock)
	if s.runner == nil {
		s.runner = LogRunner(s.log)
	}
	return s
}

// Save validates sc, computes its next run and stores it. A disabled
// schedule is stored without a next run.
func (s *Scheduler) Save(ctx context.Context, sc *blockflow.Schedule) error {
	if sc.DashboardID == "" || sc.ItemID == "" {
		return fmt.Errorf("%w: dashboard and item are required", blockflow.ErrInvalidSchedule)
	}
	timing, err := Timing(sc)
	if err != nil {
		return err
	}
	sc.NextRunAt = nil
	if sc.Enabled {
		next := timing.Next(s.clock.Now())
		sc.NextRunAt = &next
	}
	return s.store.UpsertSchedule(ctx, sc)
}

// RunOnce starts an execution for every schedule due now and advances each
// schedule's next run past now. Missed runs are not replayed. A schedule
// edited between the read and the advance keeps the edit and is skipped.
// It returns the number of executions started.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scheduler: due schedules: %w", err)
	}

	started := 0
	for _, sc := range due {
		if sc.NextRunAt == nil {
			continue
		}
		timing, err := Timing(&sc)
		if err != nil {
			// Stored before validation existed or edited by hand; park it.
			s.log.Warn("scheduler: disabling invalid schedule",
				"dashboard", sc.DashboardID, "item", sc.ItemID, "error", err)
			if _, err := s.store.AdvanceSchedule(ctx, sc.DashboardID, sc.ItemID, *sc.NextRunAt, nil, nil); err != nil {
				return started, fmt.Errorf("scheduler: disable schedule: %w", err)
			}
			continue
		}

		next := timing.Next(now)
		last := now
		ok, err := s.store.AdvanceSchedule(ctx, sc.DashboardID, sc.ItemID, *sc.NextRunAt, &next, &last)
		if err != nil {
			return started, fmt.Errorf("scheduler: advance schedule: %w", err)
		}
		if !ok {
			s.log.Debug("scheduler: schedule changed since read, skipping",
				"dashboard", sc.DashboardID, "item", sc.ItemID)
			continue
		}
		sc.NextRunAt = &next
		sc.LastRunAt = &last
		if _, err := s.start(ctx, sc, blockflow.TriggeredBySchedule); err != nil {
			return started, err
		}
		started++
	}
	return started, nil
}

// Trigger starts a manual execution of a stored schedule, enabled or not.
// The returned execution is still queued.
func (s *Scheduler) Trigger(ctx context.Context, dashboardID, itemID string) (*blockflow.Execution, error) {
	sc, err := s.store.GetSchedule(ctx, dashboardID, itemID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: get schedule: %w", err)
	}
	if sc == nil {
		return nil, blockflow.ErrScheduleNotFound
	}
	return s.start(ctx, *sc, blockflow.TriggeredByManual)
}

func (s *Scheduler) start(ctx context.Context, sc blockflow.Schedule, by string) (*blockflow.Execution, error) {
	exec := blockflow.Execution{
		ID:          uuid.NewString(),
		DashboardID: sc.DashboardID,
		ItemID:      sc.ItemID,
		Status:      blockflow.StatusQueued,
		TriggeredBy: by,
		StartedAt:   s.clock.Now(),
	}
	if err := s.store.AddExecution(ctx, &exec); err != nil {
		return nil, fmt.Errorf("scheduler: record execution: %w", err)
	}
	s.log.Info("scheduler: execution queued",
		"dashboard", sc.DashboardID, "item", sc.ItemID, "execution", exec.ID, "triggered_by", by)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(sc, exec)
	}()
	return &exec, nil
}

func (s *Scheduler) execute(sc blockflow.Schedule, exec blockflow.Execution) {
	// Executions outlive the request or tick that queued them.
	ctx, cancel := context.WithTimeout(context.Background(), s.ExecutionTimeout)
	defer cancel()

	exec.Status = blockflow.StatusRunning
	s.update(&exec)

	err := s.runSafe(ctx, sc, exec)
	finished := s.clock.Now()
	exec.FinishedAt = &finished
	switch {
	case err == nil:
		exec.Status = blockflow.StatusCompleted
	case errors.Is(err, context.DeadlineExceeded):
		exec.Status = blockflow.StatusTimedOut
		exec.Error = err.Error()
	default:
		exec.Status = blockflow.StatusFailed
		exec.Error = err.Error()
	}
	s.update(&exec)
	s.log.Info("scheduler: execution finished",
		"execution", exec.ID, "status", string(exec.Status), "error", exec.Error)
}

func (s *Scheduler) runSafe(ctx context.Context, sc blockflow.Schedule, exec blockflow.Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: runner panic: %v", r)
			s.log.Error("scheduler: runner panicked", "execution", exec.ID, "panic", r,
				"stack", stack.Trace().TrimRuntime().String())
		}
	}()
	return s.runner.Run(ctx, sc, exec)
}

func (s *Scheduler) update(exec *blockflow.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		s.log.Error("scheduler: update execution", "execution", exec.ID, "error", err)
	}
}

// Run calls RunOnce every Tick until ctx is cancelled, then waits for
// in-flight executions.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("scheduler: tick failed", "error", err)
		}

		tick := make(chan struct{})
		t := s.clock.AfterFunc(s.Tick, func() { close(tick) })
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-tick:
		}
	}
}

// Wait blocks until every started execution has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// LogRunner returns a Runner that only logs the payload. Downstream blocks
// react when their dashboard observes the completed execution.
func LogRunner(log *slog.Logger) Runner {
	return RunnerFunc(func(_ context.Context, sc blockflow.Schedule, exec blockflow.Execution) error {
		log.Info("scheduler: schedule fired",
			"dashboard", sc.DashboardID, "item", sc.ItemID, "execution", exec.ID, "text", sc.Payload.Text)
		return nil
	})
}
