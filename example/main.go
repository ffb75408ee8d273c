package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/blocks"
	"github.com/meikuraledutech/blockflow/clock"
	"github.com/meikuraledutech/blockflow/flow"
	"github.com/meikuraledutech/blockflow/lease"
	"github.com/meikuraledutech/blockflow/memory"
	"github.com/meikuraledutech/blockflow/persist"
)

// localSessions stands in for the remote browser session service.
type localSessions struct{ running bool }

func (s *localSessions) Start(context.Context, string) error { s.running = true; return nil }
func (s *localSessions) Stop(context.Context, string) error  { s.running = false; return nil }
func (s *localSessions) Status(context.Context, string) (lease.Status, error) {
	return lease.Status{Running: s.running, Ready: s.running}, nil
}

func main() {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var store blockflow.Store = memory.New()
	if err := store.CreateSchema(ctx); err != nil {
		fail("schema", err)
	}

	// ── Persist a canvas using refs ───────────────────────────────────
	created, err := store.CreateCanvas(ctx, &blockflow.Canvas{
		ID: "build-dashboard",
		Nodes: []blockflow.Node{
			{Ref: "status", Type: blockflow.BlockNote, Data: json.RawMessage(`{"text":"build: ok"}`)},
			{Ref: "gate", Type: blockflow.BlockDecision, Data: json.RawMessage(`{"operator":"contains","value":"ok"}`)},
			{Ref: "ship", Type: blockflow.BlockPrompt, Data: json.RawMessage(`{"template":"Write release notes for: {{input}}"}`)},
			{Ref: "alert", Type: blockflow.BlockNote},
			{Ref: "browser", Type: blockflow.BlockBrowser},
			{Ref: "tick", Type: blockflow.BlockSchedule, Data: json.RawMessage(`{"mode":"local","interval_seconds":30,"text":"build: ok","enabled":true}`)},
		},
		Edges: []blockflow.Edge{
			{SourceRef: "status", SourceHandle: blocks.NoteRightOut, TargetRef: "gate", TargetHandle: blocks.DecisionLeftIn},
			{SourceRef: "gate", SourceHandle: blocks.DecisionYes, TargetRef: "ship", TargetHandle: blocks.PromptIn},
			{SourceRef: "gate", SourceHandle: blocks.DecisionFlex, TargetRef: "alert", TargetHandle: blocks.NoteLeftIn},
			{SourceRef: "ship", SourceHandle: blocks.PromptOut, TargetRef: "browser", TargetHandle: blocks.BrowserIn},
			{SourceRef: "tick", SourceHandle: blocks.ScheduleRightOut, TargetRef: "gate", TargetHandle: blocks.DecisionTopIn},
		},
	})
	if err != nil {
		fail("create canvas", err)
	}
	ids := map[string]string{}
	for i, ref := range []string{"status", "gate", "ship", "alert", "browser", "tick"} {
		ids[ref] = created.Nodes[i].ID
	}
	fmt.Printf("canvas %s: %d blocks, %d connectors\n", created.ID, len(created.Nodes), len(created.Edges))

	// ── Mount it ──────────────────────────────────────────────────────
	clk := clock.NewManual(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	sessions := &localSessions{}
	poller := lease.NewPoller(sessions, nil)
	poller.Interval = 10 * time.Millisecond

	canvas := flow.NewCanvas(log)
	board := blocks.NewBoard(blocks.Env{
		DashboardID: created.ID,
		Canvas:      canvas,
		Bridge:      persist.NewBridge(store, persist.WithClock(clk), persist.WithLogger(log)),
		Clock:       clk,
		Log:         log,
		Sessions:    lease.NewManager(sessions, clk, log),
		Poller:      poller,
	})
	loaded, err := store.GetCanvas(ctx, created.ID)
	if err != nil {
		fail("get canvas", err)
	}
	board.Load(loaded)

	gate := mustBlock[*blocks.Decision](board, ids["gate"])
	ship := mustBlock[*blocks.Prompt](board, ids["ship"])
	alert := mustBlock[*blocks.Note](board, ids["alert"])
	browser := mustBlock[*blocks.Browser](board, ids["browser"])
	status := mustBlock[*blocks.Note](board, ids["status"])

	// Only the flex output is wired on the NO side, so it carries NO.
	fmt.Printf("flex output role: %s\n", gate.FlexRole())

	if err := browser.Open(ctx); err != nil {
		fail("open browser", err)
	}
	st, _ := browser.State()
	fmt.Printf("browser session: %s\n", st)

	// ── Propagate ─────────────────────────────────────────────────────
	status.Send(ctx, true)
	fmt.Printf("prompt rendered: %q\n", ship.Rendered())
	fmt.Printf("browser commands: %q\n", browser.Commands())

	status.SetText("build: failed")
	status.Send(ctx, false)
	fmt.Printf("alert note: %q\n", alert.Text())

	// Moving the YES wire off and wiring the dedicated NO output makes the
	// flex output carry YES.
	canvas.Graph().RemoveEdge(created.Edges[1].ID)
	canvas.Graph().Connect(ids["gate"], blocks.DecisionNo, ids["ship"], blocks.PromptIn)
	fmt.Printf("flex output role after rewiring: %s\n", gate.FlexRole())

	// ── Local schedule ticks on the clock ─────────────────────────────
	clk.Advance(time.Minute)
	branch, _ := gate.LastBranch()
	fmt.Printf("after two schedule ticks the gate chose %s and the alert note says %q\n", branch, alert.Text())

	// ── Debounced content reaches the store ───────────────────────────
	n, err := store.GetNode(ctx, ids["status"])
	if err != nil {
		fail("get node", err)
	}
	fmt.Printf("stored status content: %s\n", n.Data)

	board.Close()
	clk.Advance(lease.DefaultGracePeriod)
	fmt.Printf("browser session running after unmount: %v\n", sessions.running)
}

func mustBlock[T blocks.Block](b *blocks.Board, id string) T {
	blk, ok := b.Block(id)
	if !ok {
		fail("mount", fmt.Errorf("block %s not mounted", id))
	}
	t, ok := blk.(T)
	if !ok {
		fail("mount", fmt.Errorf("block %s has type %T", id, blk))
	}
	return t
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(1)
}
