package client

import (
	"context"

	"github.com/meikuraledutech/blockflow/lease"
)

// SessionClient controls the remote browser session of a dashboard.
type SessionClient struct {
	*Client
}

// NewSessionClient creates a SessionClient on c.
func NewSessionClient(c *Client) *SessionClient { return &SessionClient{Client: c} }

func (c *SessionClient) Start(ctx context.Context, dashboardID string) error {
	return c.do(ctx, request{method: "POST", path: "/sessions/" + segment(dashboardID)})
}

func (c *SessionClient) Stop(ctx context.Context, dashboardID string) error {
	return c.do(ctx, request{method: "DELETE", path: "/sessions/" + segment(dashboardID)})
}

func (c *SessionClient) Status(ctx context.Context, dashboardID string) (lease.Status, error) {
	var st lease.Status
	err := c.do(ctx, request{method: "GET", path: "/sessions/" + segment(dashboardID), out: &st})
	return st, err
}
