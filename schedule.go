package blockflow

import "time"

// Schedule is the backend-owned trigger for a schedule block, keyed by
// (DashboardID, ItemID). Cron takes precedence over IntervalSeconds.
type Schedule struct {
	DashboardID     string     `json:"dashboard_id"`
	ItemID          string     `json:"item_id"`
	Cron            string     `json:"cron,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	Enabled         bool       `json:"enabled"`
	Payload         Payload    `json:"payload"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExecutionStatus is the lifecycle state of one schedule run.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Trigger sources recorded on an execution.
const (
	TriggeredBySchedule = "schedule"
	TriggeredByManual   = "manual"
)

// Execution is one run of a schedule.
type Execution struct {
	ID          string          `json:"id"`
	DashboardID string          `json:"dashboard_id"`
	ItemID      string          `json:"item_id"`
	Status      ExecutionStatus `json:"status"`
	TriggeredBy string          `json:"triggered_by"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}
