package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/meikuraledutech/blockflow"
)

// ScheduleClient is the schedule API used by remote-mode schedule blocks.
type ScheduleClient struct {
	*Client
}

// NewScheduleClient creates a ScheduleClient on c.
func NewScheduleClient(c *Client) *ScheduleClient { return &ScheduleClient{Client: c} }

func schedulePath(dashboardID, itemID string) string {
	return "/dashboards/" + segment(dashboardID) + "/schedules/" + segment(itemID)
}

// UpsertSchedule stores s and returns the backend's view of it, including
// the computed next run.
func (c *ScheduleClient) UpsertSchedule(ctx context.Context, s *blockflow.Schedule) (*blockflow.Schedule, error) {
	var out blockflow.Schedule
	if err := c.do(ctx, request{method: "PUT", path: schedulePath(s.DashboardID, s.ItemID), body: s, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSchedule returns nil, nil when the backend has no schedule for the item.
func (c *ScheduleClient) GetSchedule(ctx context.Context, dashboardID, itemID string) (*blockflow.Schedule, error) {
	var out blockflow.Schedule
	err := c.do(ctx, request{method: "GET", path: schedulePath(dashboardID, itemID), out: &out})
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSchedule removes the item's schedule.
func (c *ScheduleClient) DeleteSchedule(ctx context.Context, dashboardID, itemID string) error {
	return c.do(ctx, request{method: "DELETE", path: schedulePath(dashboardID, itemID)})
}

// TriggerSchedule asks the backend to run the schedule now.
func (c *ScheduleClient) TriggerSchedule(ctx context.Context, dashboardID, itemID string) (*blockflow.Execution, error) {
	var out blockflow.Execution
	if err := c.do(ctx, request{method: "POST", path: schedulePath(dashboardID, itemID) + "/trigger", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExecutions returns the most recent executions first.
func (c *ScheduleClient) ListExecutions(ctx context.Context, dashboardID, itemID string, limit int) ([]blockflow.Execution, error) {
	var out []blockflow.Execution
	r := request{method: "GET", path: schedulePath(dashboardID, itemID) + "/executions", out: &out}
	if limit > 0 {
		r.query = map[string]string{"limit": strconv.Itoa(limit)}
	}
	if err := c.do(ctx, r); err != nil {
		return nil, err
	}
	return out, nil
}
