package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/lx/internal/errors"
)

// maxResponse bounds the body the client reads from a server.
const maxResponse = 8 << 20

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Defaults to one with a 10s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// Client reads the node views of a running Server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at addr. addr is either
// host:port or a base URL.
func NewClient(addr string, opts ...ClientOption) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Nodes returns every live node, sorted by id.
func (c *Client) Nodes(ctx context.Context) ([]NodeView, error) {
	var nodes []NodeView
	if err := c.get(ctx, "/nodes", &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Node returns the node with id. A node the server does not know fails
// with E301.
func (c *Client) Node(ctx context.Context, id uint64) (NodeView, error) {
	var view NodeView
	err := c.get(ctx, "/nodes/"+strconv.FormatUint(id, 10), &view)
	return view, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.New("E300").WithDetail("Invalid devtools address " + c.base).Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New("E300").
			WithDetail("Cannot reach devtools at " + c.base).
			WithSuggestion("Start the inspector with: lx inspect").
			Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return errors.New("E302").Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("E302").WithDetail("Cannot decode the response to " + path).Wrap(err)
	}
	return nil
}

// decodeError turns an error response back into the coded error the server
// wrote. Anything else is E302.
func decodeError(status int, body []byte) error {
	var wire struct {
		Code       string `json:"code"`
		Detail     string `json:"detail"`
		Suggestion string `json:"suggestion"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Code == "" {
		return errors.New("E302").
			WithDetail(fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(body))))
	}
	if _, ok := errors.Lookup(wire.Code); !ok {
		return errors.New("E302").
			WithDetail(fmt.Sprintf("HTTP %d with unknown error code %s", status, wire.Code))
	}
	err := errors.New(wire.Code)
	if wire.Detail != "" {
		err = err.WithDetail(wire.Detail)
	}
	if wire.Suggestion != "" {
		err = err.WithSuggestion(wire.Suggestion)
	}
	return err
}
