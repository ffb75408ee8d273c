package client

import (
	"context"
	"encoding/json"
)

// ContentClient pushes block content to PUT /nodes/:id/content. It is the
// usual sink of a persist.Bridge.
type ContentClient struct {
	*Client
}

// NewContentClient creates a ContentClient on c.
func NewContentClient(c *Client) *ContentClient { return &ContentClient{Client: c} }

// SaveContent replaces the stored content of nodeID.
func (c *ContentClient) SaveContent(ctx context.Context, nodeID string, data json.RawMessage) error {
	return c.do(ctx, request{method: "PUT", path: "/nodes/" + segment(nodeID) + "/content", body: data})
}
