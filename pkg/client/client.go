// Package client is a thin convenience wrapper for CLI tools to call the
// txtchatd JSON API over a Unix-domain socket. It reuses the DTOs from
// pkg/api so callers get strongly-typed results instead of generic maps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lc/txtchat/internal/socket"
	"github.com/lc/txtchat/pkg/api"
)

// Error is a failure reported by the daemon.
type Error struct {
	Status   int
	Response api.ErrorResponse
}

func (e *Error) Error() string {
	if e.Response.Error == "" {
		return fmt.Sprintf("daemon returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Response.Error
}

// Category is the error category reported by the daemon.
func (e *Error) Category() string { return e.Response.Category }

// Client holds an http.Client wired to a Unix socket.
type Client struct {
	hc   *http.Client
	base string // dummy scheme+host for Request.URL (http://unix)
}

// New returns a Client that dials the given Unix-domain socket path.
func New(socketPath string) *Client {
	return NewWithDialer(socket.NewDialer(socketPath))
}

// NewWithDialer returns a Client connecting through d.
func NewWithDialer(d *socket.Dialer) *Client {
	tr := &http.Transport{DialContext: d.DialContext}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://unix"}
}

// --------------------------- commands ------------------------------

// Ask sends a prompt and returns the daemon's answer.
func (c *Client) Ask(ctx context.Context, req api.QueryRequest) (api.QueryResponse, error) {
	var out api.QueryResponse
	err := c.post(ctx, "/v1/query", req, &out)
	return out, err
}

// Sanitize returns the DNS label the daemon would query for text.
func (c *Client) Sanitize(ctx context.Context, text string) (string, error) {
	var out api.SanitizeResponse
	err := c.post(ctx, "/v1/sanitize", api.SanitizeRequest{Text: text}, &out)
	return out.Label, err
}

// Logs retrieves recorded attempts, only those of queryID when it is set.
func (c *Client) Logs(ctx context.Context, queryID string) ([]api.Attempt, error) {
	path := "/v1/logs"
	if queryID != "" {
		path += "?query=" + url.QueryEscape(queryID)
	}
	var out []api.Attempt
	err := c.get(ctx, path, &out)
	return out, err
}

// Prune asks the daemon to drop expired attempts now.
func (c *Client) Prune(ctx context.Context) (int, error) {
	var out api.PruneResponse
	err := c.post(ctx, "/v1/logs/prune", struct{}{}, &out)
	return out.Expired, err
}

// Status retrieves the current status of the daemon.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

// --------------------------- HTTP helpers --------------------------

func (c *Client) post(ctx context.Context, path string, payload, v any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &apiErr.Response) != nil {
			apiErr.Response = api.ErrorResponse{Error: string(bytes.TrimSpace(body))}
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
