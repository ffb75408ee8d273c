package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/blockflow"
)

const scheduleColumns = `dashboard_id, item_id, cron, interval_seconds, enabled, payload, next_run_at, last_run_at, updated_at`

func scanSchedule(row pgx.Row) (blockflow.Schedule, error) {
	var sc blockflow.Schedule
	err := row.Scan(&sc.DashboardID, &sc.ItemID, &sc.Cron, &sc.IntervalSeconds, &sc.Enabled,
		&sc.Payload, &sc.NextRunAt, &sc.LastRunAt, &sc.UpdatedAt)
	return sc, err
}

// UpsertSchedule inserts or replaces the schedule keyed by
// (DashboardID, ItemID) and stamps UpdatedAt.
func (s *PGStore) UpsertSchedule(ctx context.Context, sc *blockflow.Schedule) error {
	sc.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx,
		`INSERT INTO blockflow_schedules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (dashboard_id, item_id) DO UPDATE SET
		     cron = EXCLUDED.cron,
		     interval_seconds = EXCLUDED.interval_seconds,
		     enabled = EXCLUDED.enabled,
		     payload = EXCLUDED.payload,
		     next_run_at = EXCLUDED.next_run_at,
		     last_run_at = EXCLUDED.last_run_at,
		     updated_at = EXCLUDED.updated_at`,
		sc.DashboardID, sc.ItemID, sc.Cron, sc.IntervalSeconds, sc.Enabled,
		sc.Payload, sc.NextRunAt, sc.LastRunAt, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("blockflow: upsert schedule: %w", err)
	}
	return nil
}

// GetSchedule fetches one schedule.
// Returns nil, nil if not found.
func (s *PGStore) GetSchedule(ctx context.Context, dashboardID, itemID string) (*blockflow.Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM blockflow_schedules WHERE dashboard_id = $1 AND item_id = $2`,
		dashboardID, itemID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockflow: get schedule: %w", err)
	}
	return &sc, nil
}

// DeleteSchedule removes a schedule. Its executions are kept as history.
// No error if the schedule doesn't exist.
func (s *PGStore) DeleteSchedule(ctx context.Context, dashboardID, itemID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM blockflow_schedules WHERE dashboard_id = $1 AND item_id = $2`, dashboardID, itemID)
	if err != nil {
		return fmt.Errorf("blockflow: delete schedule: %w", err)
	}
	return nil
}

// DueSchedules returns enabled schedules whose next_run_at is at or before
// now, oldest first.
func (s *PGStore) DueSchedules(ctx context.Context, now time.Time) ([]blockflow.Schedule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+scheduleColumns+` FROM blockflow_schedules
		 WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at, dashboard_id, item_id`, now)
	if err != nil {
		return nil, fmt.Errorf("blockflow: due schedules: %w", err)
	}
	defer rows.Close()

	out := []blockflow.Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("blockflow: scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blockflow: rows schedules: %w", err)
	}
	return out, nil
}

// AdvanceSchedule is a conditional update: it matches only while the row is
// enabled and next_run_at still equals due, so a concurrent upsert wins
// and only one scheduler instance advances a given run.
func (s *PGStore) AdvanceSchedule(ctx context.Context, dashboardID, itemID string, due time.Time, next, last *time.Time) (bool, error) {
	ct, err := s.db.Exec(ctx,
		`UPDATE blockflow_schedules SET
		     next_run_at = $4::timestamptz,
		     last_run_at = COALESCE($5::timestamptz, last_run_at),
		     enabled = $4::timestamptz IS NOT NULL,
		     updated_at = $6
		 WHERE dashboard_id = $1 AND item_id = $2 AND enabled AND next_run_at = $3`,
		dashboardID, itemID, due, next, last, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("blockflow: advance schedule: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

const executionColumns = `id, dashboard_id, item_id, status, triggered_by, started_at, finished_at, error`

// AddExecution records a new execution.
func (s *PGStore) AddExecution(ctx context.Context, e *blockflow.Execution) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO blockflow_executions (`+executionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.DashboardID, e.ItemID, string(e.Status), e.TriggeredBy, e.StartedAt, e.FinishedAt, e.Error,
	)
	if err != nil {
		return fmt.Errorf("blockflow: insert execution: %w", err)
	}
	return nil
}

// UpdateExecution stores an execution's status, finish time and error.
// Returns ErrScheduleNotFound if the execution doesn't exist.
func (s *PGStore) UpdateExecution(ctx context.Context, e *blockflow.Execution) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE blockflow_executions SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
		string(e.Status), e.FinishedAt, e.Error, e.ID,
	)
	if err != nil {
		return fmt.Errorf("blockflow: update execution: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: execution %s", blockflow.ErrScheduleNotFound, e.ID)
	}
	return nil
}

// ListExecutions returns up to limit executions of one schedule, newest
// first. A non-positive limit returns all of them.
func (s *PGStore) ListExecutions(ctx context.Context, dashboardID, itemID string, limit int) ([]blockflow.Execution, error) {
	q := `SELECT ` + executionColumns + ` FROM blockflow_executions
	      WHERE dashboard_id = $1 AND item_id = $2
	      ORDER BY started_at DESC, id DESC`
	args := []any{dashboardID, itemID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("blockflow: list executions: %w", err)
	}
	defer rows.Close()

	out := []blockflow.Execution{}
	for rows.Next() {
		var (
			e      blockflow.Execution
			status string
		)
		if err := rows.Scan(&e.ID, &e.DashboardID, &e.ItemID, &status, &e.TriggeredBy,
			&e.StartedAt, &e.FinishedAt, &e.Error); err != nil {
			return nil, fmt.Errorf("blockflow: scan execution: %w", err)
		}
		e.Status = blockflow.ExecutionStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blockflow: rows executions: %w", err)
	}
	return out, nil
}
