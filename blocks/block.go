// Package blocks implements the behavior of each block type on top of the
// flow substrate: which input handles a block registers, what it does with
// a delivered payload, and what it fires.
package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/clock"
	"github.com/meikuraledutech/blockflow/flow"
	"github.com/meikuraledutech/blockflow/lease"
	"github.com/meikuraledutech/blockflow/persist"
	"github.com/tidwall/gjson"
)

// ErrUnknownBlock is returned by New for a node type with no behavior.
var ErrUnknownBlock = errors.New("blocks: unknown block type")

// Block is a mounted block instance.
type Block interface {
	NodeID() string
	Type() blockflow.BlockType
	// Refresh re-derives handle registrations from the live edge list.
	Refresh()
	// Close unregisters every handle and cancels the block's timers.
	Close()
}

// Env is what a block needs from its canvas.
type Env struct {
	DashboardID string
	Canvas      *flow.Canvas
	// Bridge receives content edits. Optional.
	Bridge *persist.Bridge
	Clock  clock.Clock
	Log    *slog.Logger

	// Sessions and Poller back browser blocks.
	Sessions *lease.Manager
	Poller   *lease.Poller
	// Schedules backs schedule blocks in remote mode; SchedulePoll is their
	// polling cadence (DefaultPollInterval when zero).
	Schedules    ScheduleAPI
	SchedulePoll time.Duration
}

func (e Env) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// base holds what every block shares: its mount, its graph subscription and
// content persistence.
type base struct {
	env    Env
	id     string
	typ    blockflow.BlockType
	log    *slog.Logger
	mount  *flow.Mount
	unsub  func()
	closed sync.Once
}

func newBase(env Env, id string, typ blockflow.BlockType) base {
	env.Clock = clock.Or(env.Clock)
	return base{
		env:   env,
		id:    id,
		typ:   typ,
		log:   env.logger().With("node", id, "block", string(typ)),
		mount: flow.NewMount(env.Canvas.Registry(), id),
	}
}

func (b *base) NodeID() string            { return b.id }
func (b *base) Type() blockflow.BlockType { return b.typ }

// watch runs refresh now and after every graph mutation.
func (b *base) watch(refresh func()) {
	refresh()
	b.unsub = b.env.Canvas.Graph().Subscribe(refresh)
}

func (b *base) edges() []blockflow.Edge { return b.env.Canvas.Graph().Edges() }

func (b *base) fire(ctx context.Context, h blockflow.HandleID, p blockflow.Payload) int {
	return b.env.Canvas.Fire(ctx, b.id, h, p)
}

// save hands the block's content to the persistence bridge.
func (b *base) save(content any) {
	if b.env.Bridge == nil {
		return
	}
	data, err := json.Marshal(content)
	if err != nil {
		b.log.Error("blocks: encode content", "error", err)
		return
	}
	b.env.Bridge.Update(b.id, data)
}

func (b *base) close(extra func()) {
	b.closed.Do(func() {
		if b.unsub != nil {
			b.unsub()
		}
		b.mount.Close()
		if extra != nil {
			extra()
		}
	})
}

// decodeContent unmarshals data over def. Unparsable content falls back to
// def unchanged.
func decodeContent[T any](log *slog.Logger, data json.RawMessage, def T) T {
	if len(data) == 0 || string(data) == "null" {
		return def
	}
	out := def
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn("blocks: unparsable content, using defaults", "error", err)
		return def
	}
	return out
}

// New mounts the behavior for node. A node without a type is typed from the
// "type" field of its content.
func New(env Env, node blockflow.Node) (Block, error) {
	typ := node.Type
	if typ == "" {
		typ = blockflow.BlockType(gjson.GetBytes(node.Data, "type").String())
	}
	switch typ {
	case blockflow.BlockNote:
		return NewNote(env, node.ID, node.Data), nil
	case blockflow.BlockPrompt:
		return NewPrompt(env, node.ID, node.Data), nil
	case blockflow.BlockDecision:
		return NewDecision(env, node.ID, node.Data), nil
	case blockflow.BlockSchedule:
		return NewSchedule(env, node.ID, node.Data)
	case blockflow.BlockBrowser:
		b, err := NewBrowser(env, node.ID, node.Data)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		if hint := suggestType(typ); hint != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownBlock, typ, hint)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, typ)
	}
}

var knownTypes = []string{
	string(blockflow.BlockNote),
	string(blockflow.BlockPrompt),
	string(blockflow.BlockDecision),
	string(blockflow.BlockSchedule),
	string(blockflow.BlockBrowser),
}

// suggestType returns the closest known type name, or "" when nothing is
// close enough.
func suggestType(typ blockflow.BlockType) string {
	if typ == "" {
		return ""
	}
	ranks := fuzzy.RankFindFold(string(typ), knownTypes)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}
