// Package client talks to the backend collaborators of a dashboard: the
// content sink, the schedule API and the remote browser session API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3/client"
)

// StatusError is a non-2xx response. Message is the body's "error" field
// when present.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("client: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// Client is the shared HTTP plumbing behind the typed clients.
type Client struct {
	http *client.Client
	log  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: client.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(30 * time.Second),
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// request is one call: body is JSON-encoded when non-nil and the response is
// decoded into out when non-nil.
type request struct {
	method string
	path   string
	query  map[string]string
	body   any
	out    any
}

func (c *Client) do(ctx context.Context, r request) error {
	cfg := client.Config{Ctx: ctx, Param: r.query, Body: r.body}

	var (
		resp *client.Response
		err  error
	)
	switch r.method {
	case "GET":
		resp, err = c.http.Get(r.path, cfg)
	case "POST":
		resp, err = c.http.Post(r.path, cfg)
	case "PUT":
		resp, err = c.http.Put(r.path, cfg)
	case "DELETE":
		resp, err = c.http.Delete(r.path, cfg)
	default:
		return fmt.Errorf("client: unsupported method %s", r.method)
	}
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Close()

	code := resp.StatusCode()
	c.log.Debug("client: response", "method", r.method, "path", r.path, "status", code)
	if code < 200 || code > 299 {
		se := &StatusError{Method: r.method, Path: r.path, Code: code}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &body) == nil {
			se.Message = body.Error
		}
		return se
	}

	if r.out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), r.out); err != nil {
		return fmt.Errorf("client: %s %s: decode: %w", r.method, r.path, err)
	}
	return nil
}

func segment(s string) string { return url.PathEscape(s) }
