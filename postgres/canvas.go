package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meikuraledutech/blockflow"
)

// CreateCanvas saves a full canvas (nodes + edges) in one transaction,
// replacing whatever was stored under c.ID.
// Nodes/edges without IDs get auto-generated UUIDs.
// Edge refs (SourceRef/TargetRef) are resolved to real node IDs.
// Returns the canvas with all IDs filled in.
func (s *PGStore) CreateCanvas(ctx context.Context, c *blockflow.Canvas) (*blockflow.Canvas, error) {
	if err := resolveRefs(c); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("blockflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replace semantics.
	if _, err := tx.Exec(ctx, `DELETE FROM blockflow_edges WHERE canvas_id = $1`, c.ID); err != nil {
		return nil, fmt.Errorf("blockflow: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM blockflow_nodes WHERE canvas_id = $1`, c.ID); err != nil {
		return nil, fmt.Errorf("blockflow: delete nodes: %w", err)
	}

	for _, n := range c.Nodes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO blockflow_nodes (id, canvas_id, type, data) VALUES ($1, $2, $3, $4)`,
			n.ID, c.ID, string(n.Type), jsonb(n.Data),
		); err != nil {
			return nil, fmt.Errorf("blockflow: insert node %s: %w", n.ID, err)
		}
	}

	for _, e := range c.Edges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO blockflow_edges (id, canvas_id, source, source_handle, target, target_handle, data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, c.ID, e.Source, string(e.SourceHandle), e.Target, string(e.TargetHandle), jsonb(e.Data),
		); err != nil {
			return nil, fmt.Errorf("blockflow: insert edge %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("blockflow: commit: %w", err)
	}
	return c, nil
}

// resolveRefs assigns missing IDs, rewrites edge refs to node IDs and clears
// the refs, which are never persisted.
func resolveRefs(c *blockflow.Canvas) error {
	refMap := make(map[string]string)
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Ref != "" {
			refMap[n.Ref] = n.ID
		}
	}
	for i := range c.Edges {
		e := &c.Edges[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.SourceRef != "" {
			id, ok := refMap[e.SourceRef]
			if !ok {
				return fmt.Errorf("blockflow: unknown source_ref %q", e.SourceRef)
			}
			e.Source = id
		}
		if e.TargetRef != "" {
			id, ok := refMap[e.TargetRef]
			if !ok {
				return fmt.Errorf("blockflow: unknown target_ref %q", e.TargetRef)
			}
			e.Target = id
		}
	}
	for i := range c.Nodes {
		c.Nodes[i].Ref = ""
	}
	for i := range c.Edges {
		c.Edges[i].SourceRef = ""
		c.Edges[i].TargetRef = ""
	}
	return nil
}

// GetCanvas retrieves a full canvas (nodes + edges) by its ID.
// Returns nil, nil if no nodes exist for the canvasID.
func (s *PGStore) GetCanvas(ctx context.Context, canvasID string) (*blockflow.Canvas, error) {
	nodes, err := s.ListNodes(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	edges, err := s.ListEdges(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	return &blockflow.Canvas{ID: canvasID, Nodes: nodes, Edges: edges}, nil
}

// DeleteCanvas removes all nodes and edges for a canvasID.
// No error if the canvasID doesn't exist.
func (s *PGStore) DeleteCanvas(ctx context.Context, canvasID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("blockflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM blockflow_edges WHERE canvas_id = $1`, canvasID); err != nil {
		return fmt.Errorf("blockflow: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM blockflow_nodes WHERE canvas_id = $1`, canvasID); err != nil {
		return fmt.Errorf("blockflow: delete nodes: %w", err)
	}

	return tx.Commit(ctx)
}
