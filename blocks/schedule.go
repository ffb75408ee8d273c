package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/clock"
	"github.com/meikuraledutech/blockflow/flow"
	"github.com/meikuraledutech/blockflow/persist"
)

const (
	ScheduleTriggerIn blockflow.HandleID = "left-in"
	ScheduleRightOut  blockflow.HandleID = "right-out"
	ScheduleBottomOut blockflow.HandleID = "bottom-out"
)

var scheduleOutputs = []blockflow.HandleID{ScheduleRightOut, ScheduleBottomOut}

// Schedule modes. Local runs its own countdown and suits ephemeral canvases;
// remote defers timing to the server-side scheduler so that a persisted
// schedule fires once no matter how many viewers have it open.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// ScheduleContent is a schedule block's persisted content.
type ScheduleContent struct {
	Mode            string `json:"mode"`
	IntervalSeconds int    `json:"interval_seconds"`
	Cron            string `json:"cron,omitempty"`
	Text            string `json:"text"`
	Enabled         bool   `json:"enabled"`
}

// ScheduleAPI is the backend's schedule resource, keyed by dashboard and
// item.
type ScheduleAPI interface {
	UpsertSchedule(ctx context.Context, s *blockflow.Schedule) (*blockflow.Schedule, error)
	GetSchedule(ctx context.Context, dashboardID, itemID string) (*blockflow.Schedule, error)
	TriggerSchedule(ctx context.Context, dashboardID, itemID string) (*blockflow.Execution, error)
	ListExecutions(ctx context.Context, dashboardID, itemID string, limit int) ([]blockflow.Execution, error)
}

var errNoScheduleAPI = errors.New("blocks: remote schedule without a schedule API")

// NewSchedule mounts a schedule block in the mode its content names.
func NewSchedule(env Env, id string, data json.RawMessage) (Block, error) {
	log := env.logger().With("node", id, "block", string(blockflow.BlockSchedule))
	content := decodeContent(log, data, ScheduleContent{Mode: ModeLocal, IntervalSeconds: 60})
	if content.Mode == ModeRemote {
		if env.Schedules == nil {
			return nil, errNoScheduleAPI
		}
		return NewRemoteSchedule(env, id, content), nil
	}
	return NewLocalSchedule(env, id, content), nil
}

// fireOutputs sends p on every schedule output.
func fireOutputs(ctx context.Context, b *base, p blockflow.Payload) int {
	n := 0
	for _, h := range scheduleOutputs {
		n += b.fire(ctx, h, p)
	}
	return n
}

// ---------------------------------------------------------------------------
// Local countdown
// ---------------------------------------------------------------------------

// LocalSchedule fires its text every IntervalSeconds while enabled.
type LocalSchedule struct {
	base

	mu      sync.Mutex
	content ScheduleContent
	timer   clock.Timer
	gen     int
	nextAt  time.Time
	fired   int
}

// NewLocalSchedule mounts a local schedule and starts it if enabled.
func NewLocalSchedule(env Env, id string, content ScheduleContent) *LocalSchedule {
	s := &LocalSchedule{base: newBase(env, id, blockflow.BlockSchedule), content: content}
	s.watch(s.Refresh)
	if content.Enabled {
		s.Start()
	}
	return s
}

// Refresh registers the external trigger input.
func (s *LocalSchedule) Refresh() {
	s.mount.Sync(map[blockflow.HandleID]flow.Callback{ScheduleTriggerIn: s.receive})
}

func (s *LocalSchedule) receive(ctx context.Context, p blockflow.Payload) {
	if p.Execute {
		s.TriggerNow(ctx)
	}
}

// Start begins the countdown. A non-positive interval leaves it stopped.
func (s *LocalSchedule) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content.Enabled = true
	s.armLocked()
	s.saveLocked()
}

// Stop cancels the countdown.
func (s *LocalSchedule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content.Enabled = false
	s.disarmLocked()
	s.saveLocked()
}

// SetInterval changes the period and restarts a running countdown.
func (s *LocalSchedule) SetInterval(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content.IntervalSeconds = seconds
	if s.content.Enabled {
		s.armLocked()
	}
	s.saveLocked()
}

func (s *LocalSchedule) armLocked() {
	s.disarmLocked()
	if s.content.IntervalSeconds <= 0 {
		return
	}
	d := time.Duration(s.content.IntervalSeconds) * time.Second
	gen := s.gen
	s.nextAt = s.env.Clock.Now().Add(d)
	s.timer = s.env.Clock.AfterFunc(d, func() { s.tick(gen) })
}

func (s *LocalSchedule) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.nextAt = time.Time{}
}

func (s *LocalSchedule) saveLocked() {
	s.save(s.content)
}

func (s *LocalSchedule) tick(gen int) {
	s.mu.Lock()
	if gen != s.gen || !s.content.Enabled {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.fired++
	text := s.content.Text
	s.armLocked()
	s.mu.Unlock()

	fireOutputs(context.Background(), &s.base, blockflow.Payload{Text: text, Execute: true})
}

// TriggerNow fires immediately without disturbing the countdown.
func (s *LocalSchedule) TriggerNow(ctx context.Context) int {
	s.mu.Lock()
	s.fired++
	text := s.content.Text
	s.mu.Unlock()
	return fireOutputs(ctx, &s.base, blockflow.Payload{Text: text, Execute: true})
}

// NextAt returns when the countdown fires next; zero when stopped.
func (s *LocalSchedule) NextAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAt
}

// Fired returns how many times the schedule has fired.
func (s *LocalSchedule) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Close stops the countdown and unmounts the block.
func (s *LocalSchedule) Close() {
	s.close(func() {
		s.mu.Lock()
		s.disarmLocked()
		s.mu.Unlock()
	})
}

// ---------------------------------------------------------------------------
// Remote view
// ---------------------------------------------------------------------------

const (
	// DefaultPollInterval is how often a remote schedule view refreshes.
	DefaultPollInterval = 15 * time.Second
	// EditWindow debounces cron and interval edits into one upsert.
	EditWindow = time.Second

	executionsPageSize = 10
	callTimeout        = 30 * time.Second
)

// ScheduleView is what a remote schedule block shows: the backend's record
// and its recent executions, newest first.
type ScheduleView struct {
	Schedule   *blockflow.Schedule
	Executions []blockflow.Execution
}

// RemoteSchedule is a view over a backend-owned schedule. Edits are
// debounced into upserts; the next run time and execution history come
// from polling. Each newly completed execution fires the outputs once.
type RemoteSchedule struct {
	base
	api ScheduleAPI

	mu      sync.Mutex
	content ScheduleContent
	view    ScheduleView
	errMsg  string
	retry   func(context.Context) error
	seen    map[string]bool
	primed  bool
	poll    clock.Timer
	stopped bool

	edits *persist.Debouncer[ScheduleContent]
}

// NewRemoteSchedule mounts a remote schedule view and starts polling.
func NewRemoteSchedule(env Env, id string, content ScheduleContent) *RemoteSchedule {
	s := &RemoteSchedule{
		base:    newBase(env, id, blockflow.BlockSchedule),
		api:     env.Schedules,
		content: content,
		seen:    make(map[string]bool),
	}
	s.edits = persist.NewDebouncer(EditWindow, s.env.Clock, func(c ScheduleContent) {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		s.push(ctx, c)
	})
	s.watch(s.Refresh)
	s.schedulePoll(0)
	return s
}

// Refresh registers the external trigger input.
func (s *RemoteSchedule) Refresh() {
	s.mount.Sync(map[blockflow.HandleID]flow.Callback{ScheduleTriggerIn: s.receive})
}

func (s *RemoteSchedule) receive(ctx context.Context, p blockflow.Payload) {
	if p.Execute {
		s.TriggerNow(ctx)
	}
}

func (s *RemoteSchedule) edit(fn func(*ScheduleContent)) {
	s.mu.Lock()
	fn(&s.content)
	content := s.content
	s.mu.Unlock()

	s.save(content)
	s.edits.Call(content)
}

// SetCron edits the cron expression.
func (s *RemoteSchedule) SetCron(expr string) {
	s.edit(func(c *ScheduleContent) { c.Cron = expr })
}

// SetInterval edits the interval used when no cron is set.
func (s *RemoteSchedule) SetInterval(seconds int) {
	s.edit(func(c *ScheduleContent) { c.IntervalSeconds = seconds })
}

// SetEnabled turns the backend schedule on or off.
func (s *RemoteSchedule) SetEnabled(on bool) {
	s.edit(func(c *ScheduleContent) { c.Enabled = on })
}

// SetText edits the text carried by each run.
func (s *RemoteSchedule) SetText(text string) {
	s.edit(func(c *ScheduleContent) { c.Text = text })
}

// FlushEdits pushes pending edits now.
func (s *RemoteSchedule) FlushEdits() { s.edits.Flush() }

func (s *RemoteSchedule) push(ctx context.Context, c ScheduleContent) error {
	rec := &blockflow.Schedule{
		DashboardID:     s.env.DashboardID,
		ItemID:          s.id,
		Cron:            c.Cron,
		IntervalSeconds: c.IntervalSeconds,
		Enabled:         c.Enabled,
		Payload:         blockflow.Payload{Text: c.Text, Execute: true},
	}
	got, err := s.api.UpsertSchedule(ctx, rec)
	if s.fail("save schedule", err, func(ctx context.Context) error { return s.push(ctx, c) }) {
		return err
	}
	s.mu.Lock()
	s.view.Schedule = got
	s.mu.Unlock()
	return nil
}

// TriggerNow asks the backend to run the schedule once, then refreshes the
// view.
func (s *RemoteSchedule) TriggerNow(ctx context.Context) error {
	_, err := s.api.TriggerSchedule(ctx, s.env.DashboardID, s.id)
	if s.fail("trigger schedule", err, s.TriggerNow) {
		return err
	}
	return s.Poll(ctx)
}

// Poll refreshes the view and fires once for each execution that completed
// since the previous poll. Executions already finished at the first poll
// are history and never fire.
func (s *RemoteSchedule) Poll(ctx context.Context) error {
	rec, err := s.api.GetSchedule(ctx, s.env.DashboardID, s.id)
	if s.fail("load schedule", err, s.Poll) {
		return err
	}
	execs, err := s.api.ListExecutions(ctx, s.env.DashboardID, s.id, executionsPageSize)
	if s.fail("load executions", err, s.Poll) {
		return err
	}

	var fresh []blockflow.Execution
	s.mu.Lock()
	s.view = ScheduleView{Schedule: rec, Executions: execs}
	for i := len(execs) - 1; i >= 0; i-- {
		e := execs[i]
		if s.seen[e.ID] {
			continue
		}
		if !s.primed {
			// Finished history never fires; runs still in flight fire once
			// they complete.
			if e.Status.Terminal() {
				s.seen[e.ID] = true
			}
			continue
		}
		if !e.Status.Terminal() {
			continue
		}
		s.seen[e.ID] = true
		if e.Status == blockflow.StatusCompleted {
			fresh = append(fresh, e)
		}
	}
	s.primed = true
	text := s.content.Text
	if rec != nil && rec.Payload.Text != "" {
		text = rec.Payload.Text
	}
	s.mu.Unlock()

	for _, e := range fresh {
		s.log.Debug("blocks: schedule execution completed", "execution", e.ID, "triggered_by", e.TriggeredBy)
		fireOutputs(ctx, &s.base, blockflow.Payload{Text: text, Execute: true})
	}
	return nil
}

// fail records err as the block's error and remembers retry. It reports
// whether err was non-nil; a nil err clears the error.
func (s *RemoteSchedule) fail(op string, err error, retry func(context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.errMsg = ""
		s.retry = nil
		return false
	}
	s.errMsg = op + ": " + err.Error()
	s.retry = retry
	s.log.Warn("blocks: schedule call failed", "op", op, "error", err)
	return true
}

// Err returns the last error message shown to the user, or "".
func (s *RemoteSchedule) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Retry repeats the call that last failed.
func (s *RemoteSchedule) Retry(ctx context.Context) error {
	s.mu.Lock()
	retry := s.retry
	s.mu.Unlock()
	if retry == nil {
		return nil
	}
	return retry(ctx)
}

// View returns the latest polled state.
func (s *RemoteSchedule) View() ScheduleView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *RemoteSchedule) schedulePoll(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.poll = s.env.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		s.Poll(ctx)
		cancel()
		s.schedulePoll(s.pollInterval())
	})
}

func (s *RemoteSchedule) pollInterval() time.Duration {
	if s.env.SchedulePoll > 0 {
		return s.env.SchedulePoll
	}
	return DefaultPollInterval
}

// Close flushes pending edits, stops polling and unmounts the block.
func (s *RemoteSchedule) Close() {
	s.close(func() {
		s.edits.Flush()
		s.mu.Lock()
		s.stopped = true
		if s.poll != nil {
			s.poll.Stop()
		}
		s.mu.Unlock()
	})
}
