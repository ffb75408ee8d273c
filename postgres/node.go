package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/meikuraledutech/blockflow"
)

// AddNode inserts a single node into a canvas.
// If node.ID is empty, a UUID is auto-generated.
// Returns the node ID (generated or provided).
func (s *PGStore) AddNode(ctx context.Context, canvasID string, node *blockflow.Node) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO blockflow_nodes (id, canvas_id, type, data) VALUES ($1, $2, $3, $4)`,
		node.ID, canvasID, string(node.Type), jsonb(node.Data),
	)
	if err != nil {
		return "", fmt.Errorf("blockflow: insert node: %w", err)
	}

	return node.ID, nil
}

// GetNode fetches a single node by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetNode(ctx context.Context, nodeID string) (*blockflow.Node, error) {
	var (
		n   blockflow.Node
		typ string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, type, data FROM blockflow_nodes WHERE id = $1`, nodeID,
	).Scan(&n.ID, &typ, &n.Data)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockflow: get node: %w", err)
	}

	n.Type = blockflow.BlockType(typ)
	return &n, nil
}

// UpdateNode updates the type and data of an existing node.
// Returns ErrNodeNotFound if the node doesn't exist.
func (s *PGStore) UpdateNode(ctx context.Context, node *blockflow.Node) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE blockflow_nodes SET type = $1, data = $2 WHERE id = $3`,
		string(node.Type), jsonb(node.Data), node.ID,
	)
	if err != nil {
		return fmt.Errorf("blockflow: update node: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return blockflow.ErrNodeNotFound
	}
	return nil
}

// SaveContent replaces a node's content, leaving its type alone. This is the
// sink of the debounced content sync.
// Returns ErrNodeNotFound if the node doesn't exist.
func (s *PGStore) SaveContent(ctx context.Context, nodeID string, data json.RawMessage) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE blockflow_nodes SET data = $1 WHERE id = $2`, jsonb(data), nodeID)
	if err != nil {
		return fmt.Errorf("blockflow: save content: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return blockflow.ErrNodeNotFound
	}
	return nil
}

// DeleteNode deletes a node by its ID.
// Associated edges are cascade-deleted by the DB.
// No error if the node doesn't exist.
func (s *PGStore) DeleteNode(ctx context.Context, nodeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM blockflow_nodes WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("blockflow: delete node: %w", err)
	}
	return nil
}

// ListNodes returns all nodes for a canvasID, ordered by created_at.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListNodes(ctx context.Context, canvasID string) ([]blockflow.Node, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, type, data FROM blockflow_nodes WHERE canvas_id = $1 ORDER BY created_at, id`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("blockflow: list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []blockflow.Node{}
	for rows.Next() {
		var (
			n   blockflow.Node
			typ string
		)
		if err := rows.Scan(&n.ID, &typ, &n.Data); err != nil {
			return nil, fmt.Errorf("blockflow: scan node: %w", err)
		}
		n.Type = blockflow.BlockType(typ)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("blockflow: rows nodes: %w", err)
	}

	return nodes, nil
}
