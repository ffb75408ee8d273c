package blockflow

import (
	"encoding/json"
	"strings"
)

// Canvas is one dashboard's block graph: the blocks placed on it and the
// connectors wiring their handles together.
type Canvas struct {
	ID    string `json:"id"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BlockType tags what a node does.
type BlockType string

const (
	BlockNote     BlockType = "note"
	BlockPrompt   BlockType = "prompt"
	BlockDecision BlockType = "decision"
	BlockSchedule BlockType = "schedule"
	BlockBrowser  BlockType = "browser"
)

// Node is a block on the canvas.
// Ref is a temporary key used only during CreateCanvas for edge wiring and is never persisted.
type Node struct {
	ID   string          `json:"id,omitempty"`
	Ref  string          `json:"ref,omitempty"`
	Type BlockType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Edge is a directed wire from one block's output handle to another block's
// input handle.
// SourceRef / TargetRef are temporary keys used only during CreateCanvas and are never persisted.
type Edge struct {
	ID           string          `json:"id,omitempty"`
	Source       string          `json:"source,omitempty"`
	SourceHandle HandleID        `json:"source_handle"`
	Target       string          `json:"target,omitempty"`
	TargetHandle HandleID        `json:"target_handle"`
	SourceRef    string          `json:"source_ref,omitempty"`
	TargetRef    string          `json:"target_ref,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// HandleID names a connection point on a block, e.g. "left-in" or
// "bottomright-out".
type HandleID string

// Direction is a bit set of edge roles.
type Direction uint8

const (
	In Direction = 1 << iota
	Out

	Both = In | Out
)

// Direction returns the handle's declared direction from its suffix.
// Handles without a known suffix are treated as undirected. Some blocks
// reinterpret a handle's effective role from topology; this is only the
// declaration.
func (h HandleID) Direction() Direction {
	switch {
	case strings.HasSuffix(string(h), "-in"):
		return In
	case strings.HasSuffix(string(h), "-out"):
		return Out
	default:
		return Both
	}
}

// Side returns the handle id without its direction suffix ("left-in" → "left").
func (h HandleID) Side() string {
	s := string(h)
	if i := strings.LastIndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// Payload is the message carried along a wire.
// Handlers must treat a received payload as read-only and build a new one to
// re-fire. Unknown JSON fields are ignored on decode.
type Payload struct {
	Text       string `json:"text,omitempty"`
	Execute    bool   `json:"execute,omitempty"`
	NewSession bool   `json:"newSession,omitempty"`
}

// WithText returns a copy of p carrying text.
func (p Payload) WithText(text string) Payload {
	p.Text = text
	return p
}
