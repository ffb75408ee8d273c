package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meikuraledutech/blockflow/clock"
)

// ErrNotReady is returned when a session did not report ready within the
// allowed number of status polls.
var ErrNotReady = errors.New("lease: session did not become ready")

// Status is the remote session's self-report.
type Status struct {
	Running bool `json:"running"`
	Ready   bool `json:"ready"`
}

// SessionAPI is the remote-session control surface: start, stop and status
// per dashboard.
type SessionAPI interface {
	Controller
	Status(ctx context.Context, key string) (Status, error)
}

// Poller waits for a started session to become ready.
type Poller struct {
	api   SessionAPI
	clock clock.Clock

	// Interval is the delay between status polls.
	Interval time.Duration
	// MaxAttempts bounds the number of polls.
	MaxAttempts int
}

// NewPoller creates a Poller with a 1s cadence and 30 attempts.
func NewPoller(api SessionAPI, c clock.Clock) *Poller {
	return &Poller{api: api, clock: clock.Or(c), Interval: time.Second, MaxAttempts: 30}
}

// WaitReady polls the status of key until it reports ready, the attempts run
// out, or ctx is done. Status call errors count as failed attempts.
func (p *Poller) WaitReady(ctx context.Context, key string) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.Interval); err != nil {
				return err
			}
		}
		st, err := p.api.Status(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if st.Running && st.Ready {
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrNotReady, p.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrNotReady, p.MaxAttempts)
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := p.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}
