package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/blockflow"
)

const edgeColumns = `id, source, source_handle, target, target_handle, data`

func scanEdge(row pgx.Row) (blockflow.Edge, error) {
	var (
		e      blockflow.Edge
		sh, th string
	)
	err := row.Scan(&e.ID, &e.Source, &sh, &e.Target, &th, &e.Data)
	e.SourceHandle = blockflow.HandleID(sh)
	e.TargetHandle = blockflow.HandleID(th)
	return e, err
}

// AddEdge inserts a single edge into a canvas.
// If edge.ID is empty, a UUID is auto-generated. Cycles are allowed; the
// dispatch bus bounds propagation at runtime.
// Returns the edge ID (generated or provided).
func (s *PGStore) AddEdge(ctx context.Context, canvasID string, edge *blockflow.Edge) (string, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO blockflow_edges (id, canvas_id, source, source_handle, target, target_handle, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		edge.ID, canvasID, edge.Source, string(edge.SourceHandle), edge.Target, string(edge.TargetHandle), jsonb(edge.Data),
	)
	if err != nil {
		return "", fmt.Errorf("blockflow: insert edge: %w", err)
	}

	return edge.ID, nil
}

// GetEdge fetches a single edge by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetEdge(ctx context.Context, edgeID string) (*blockflow.Edge, error) {
	e, err := scanEdge(s.db.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM blockflow_edges WHERE id = $1`, edgeID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockflow: get edge: %w", err)
	}
	return &e, nil
}

// DeleteEdge deletes an edge by its ID.
// No error if the edge doesn't exist.
func (s *PGStore) DeleteEdge(ctx context.Context, edgeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM blockflow_edges WHERE id = $1`, edgeID)
	if err != nil {
		return fmt.Errorf("blockflow: delete edge: %w", err)
	}
	return nil
}

// ListEdges returns all edges for a canvasID, ordered by created_at.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListEdges(ctx context.Context, canvasID string) ([]blockflow.Edge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+edgeColumns+` FROM blockflow_edges WHERE canvas_id = $1 ORDER BY created_at, id`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("blockflow: list edges: %w", err)
	}
	defer rows.Close()

	edges := []blockflow.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("blockflow: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blockflow: rows edges: %w", err)
	}

	return edges, nil
}
