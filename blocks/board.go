package blocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/meikuraledutech/blockflow"
)

// Board is a mounted canvas: one Block per node, sharing the Env's flow
// canvas.
type Board struct {
	env Env

	mu     sync.Mutex
	blocks map[string]Block
	order  []string
}

// NewBoard creates an empty board.
func NewBoard(env Env) *Board {
	return &Board{env: env, blocks: make(map[string]Block)}
}

// Load mounts every node of c and installs its edges. Nodes of unknown type
// are skipped with a warning so one bad block cannot take the canvas down.
func (b *Board) Load(c *blockflow.Canvas) {
	b.env.Canvas.Load(c)
	for _, n := range c.Nodes {
		if _, err := b.Add(n); err != nil {
			b.env.logger().Warn("blocks: skipping node", "node", n.ID, "type", string(n.Type), "error", err)
		}
	}
}

// Add mounts node.
func (b *Board) Add(node blockflow.Node) (Block, error) {
	b.mu.Lock()
	_, exists := b.blocks[node.ID]
	b.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("blocks: node %s already mounted", node.ID)
	}

	blk, err := New(b.env, node)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.blocks[node.ID] = blk
	b.order = append(b.order, node.ID)
	b.mu.Unlock()
	return blk, nil
}

// Block returns the mounted block for nodeID.
func (b *Board) Block(nodeID string) (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blk, ok := b.blocks[nodeID]
	return blk, ok
}

// Remove unmounts nodeID, drops its edges and cancels its pending content
// sync.
func (b *Board) Remove(nodeID string) {
	b.mu.Lock()
	blk, ok := b.blocks[nodeID]
	delete(b.blocks, nodeID)
	for i, id := range b.order {
		if id == nodeID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if ok {
		blk.Close()
	}
	b.env.Canvas.Graph().RemoveNode(nodeID)
	if b.env.Bridge != nil {
		b.env.Bridge.Forget(nodeID)
	}
}

// Fire delivers p from a node's output handle.
func (b *Board) Fire(ctx context.Context, nodeID string, h blockflow.HandleID, p blockflow.Payload) int {
	return b.env.Canvas.Fire(ctx, nodeID, h, p)
}

// Close unmounts every block in mount order and flushes pending content.
func (b *Board) Close() {
	b.mu.Lock()
	order := append([]string(nil), b.order...)
	blocks := b.blocks
	b.blocks = make(map[string]Block)
	b.order = nil
	b.mu.Unlock()

	for _, id := range order {
		blocks[id].Close()
	}
	if b.env.Bridge != nil {
		b.env.Bridge.Close()
	}
}
