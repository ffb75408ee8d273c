package blockflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNodeNotFound     = errors.New("blockflow: node not found")
	ErrEdgeNotFound     = errors.New("blockflow: edge not found")
	ErrScheduleNotFound = errors.New("blockflow: schedule not found")
	ErrInvalidSchedule  = errors.New("blockflow: invalid schedule")
)

// Store defines the contract for persisting canvases, block content and
// schedules.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Canvas (bulk operations)
	CreateCanvas(ctx context.Context, c *Canvas) (*Canvas, error)
	GetCanvas(ctx context.Context, canvasID string) (*Canvas, error)
	DeleteCanvas(ctx context.Context, canvasID string) error

	// Nodes
	AddNode(ctx context.Context, canvasID string, node *Node) (string, error)
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error
	SaveContent(ctx context.Context, nodeID string, data json.RawMessage) error
	DeleteNode(ctx context.Context, nodeID string) error
	ListNodes(ctx context.Context, canvasID string) ([]Node, error)

	// Edges
	AddEdge(ctx context.Context, canvasID string, edge *Edge) (string, error)
	GetEdge(ctx context.Context, edgeID string) (*Edge, error)
	DeleteEdge(ctx context.Context, edgeID string) error
	ListEdges(ctx context.Context, canvasID string) ([]Edge, error)

	ScheduleStore
}

// ScheduleStore persists schedules and their executions. The scheduler
// depends only on this half of Store.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, dashboardID, itemID string) (*Schedule, error)
	DeleteSchedule(ctx context.Context, dashboardID, itemID string) error
	// DueSchedules returns enabled schedules whose NextRunAt is at or before now.
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	// AdvanceSchedule moves a schedule on only while it is still enabled and
	// its NextRunAt still equals due: NextRunAt becomes next and LastRunAt
	// becomes last. A nil next disables the schedule; a nil last keeps the
	// stored LastRunAt. It reports false when an edit got there first.
	AdvanceSchedule(ctx context.Context, dashboardID, itemID string, due time.Time, next, last *time.Time) (bool, error)

	AddExecution(ctx context.Context, e *Execution) error
	UpdateExecution(ctx context.Context, e *Execution) error
	// ListExecutions returns the most recent executions first.
	ListExecutions(ctx context.Context, dashboardID, itemID string, limit int) ([]Execution, error)
}
