package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/flow"
)

const BrowserIn blockflow.HandleID = "left-in"

// SessionState is the browser block's view of the shared remote session.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionStarting SessionState = "starting"
	SessionReady    SessionState = "ready"
	SessionFailed   SessionState = "failed"
)

var errNoSessions = errors.New("blocks: browser without a session manager")

// BrowserContent is a browser block's persisted content.
type BrowserContent struct {
	URL string `json:"url"`
}

// Browser embeds the dashboard's remote browser session. Every browser block
// on a dashboard shares one session through the lease manager.
type Browser struct {
	base

	mu       sync.Mutex
	content  BrowserContent
	state    SessionState
	errMsg   string
	leased   bool
	commands []string
}

// NewBrowser mounts a browser block. The session is acquired by Open.
func NewBrowser(env Env, id string, data json.RawMessage) (*Browser, error) {
	if env.Sessions == nil {
		return nil, errNoSessions
	}
	b := &Browser{base: newBase(env, id, blockflow.BlockBrowser), state: SessionIdle}
	b.content = decodeContent(b.log, data, BrowserContent{})
	b.watch(b.Refresh)
	return b, nil
}

// Refresh registers the command input.
func (b *Browser) Refresh() {
	b.mount.Sync(map[blockflow.HandleID]flow.Callback{BrowserIn: b.receive})
}

func (b *Browser) receive(_ context.Context, p blockflow.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.NewSession {
		b.commands = nil
	}
	if p.Text != "" {
		b.commands = append(b.commands, p.Text)
	}
}

// Open takes a lease on the dashboard session and waits for it to report
// ready. Failures are kept as the block's error; Retry tries again.
func (b *Browser) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.leased {
		b.mu.Unlock()
		return b.Retry(ctx)
	}
	b.leased = true
	b.state = SessionStarting
	b.errMsg = ""
	b.mu.Unlock()

	if err := b.env.Sessions.Acquire(ctx, b.env.DashboardID); err != nil {
		return b.failed("start session", err)
	}
	return b.waitReady(ctx)
}

// Retry re-issues the session start and waits for readiness again.
func (b *Browser) Retry(ctx context.Context) error {
	b.mu.Lock()
	if !b.leased {
		b.mu.Unlock()
		return b.Open(ctx)
	}
	b.state = SessionStarting
	b.errMsg = ""
	b.mu.Unlock()

	if err := b.env.Sessions.Retry(ctx, b.env.DashboardID); err != nil {
		return b.failed("start session", err)
	}
	return b.waitReady(ctx)
}

func (b *Browser) waitReady(ctx context.Context) error {
	if b.env.Poller != nil {
		if err := b.env.Poller.WaitReady(ctx, b.env.DashboardID); err != nil {
			return b.failed("wait for session", err)
		}
	}
	b.mu.Lock()
	b.state = SessionReady
	b.mu.Unlock()
	return nil
}

func (b *Browser) failed(op string, err error) error {
	b.mu.Lock()
	b.state = SessionFailed
	b.errMsg = op + ": " + err.Error()
	b.mu.Unlock()
	b.log.Warn("blocks: browser session unavailable", "op", op, "error", err)
	return err
}

// State returns the session state and the error shown to the user.
func (b *Browser) State() (SessionState, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.errMsg
}

// Commands returns the instructions received for the session.
func (b *Browser) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// SetURL edits the start page.
func (b *Browser) SetURL(url string) {
	b.mu.Lock()
	b.content.URL = url
	content := b.content
	b.mu.Unlock()
	b.save(content)
}

// Close releases the session lease and unmounts the block.
func (b *Browser) Close() {
	b.close(func() {
		b.mu.Lock()
		leased := b.leased
		b.leased = false
		b.state = SessionIdle
		b.mu.Unlock()
		if leased {
			b.env.Sessions.Release(b.env.DashboardID)
		}
	})
}
