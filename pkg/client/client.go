// Package client is a Go client for the leosync HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leobook/leosync/internal/types"
)

// Response types shared with the server.
type (
	HealthResponse = types.HealthResponse
	TableInfo      = types.TableInfo
	RunResult      = types.RunResult
)

// ErrNoRun is returned by SyncStatus before the server has completed a run.
var ErrNoRun = errors.New("no sync has run yet")

// APIError is a non-2xx response decoded from an RFC 7807 body.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("leosync: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("leosync: %d %s", e.StatusCode, e.Title)
}

// Client talks to a running leosync server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			// A manual sync blocks until the run completes.
			Timeout: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health calls GET /api/v1/health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
	return out, err
}

// Tables calls GET /api/v1/tables.
func (c *Client) Tables(ctx context.Context) ([]TableInfo, error) {
	var out []TableInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/tables", nil, &out)
	return out, err
}

// TriggerSync calls POST /api/v1/sync and waits for the run to finish.
// An empty label lets the server pick its default.
func (c *Client) TriggerSync(ctx context.Context, label string) (RunResult, error) {
	var out RunResult
	err := c.do(ctx, http.MethodPost, "/api/v1/sync", types.SyncRequest{Label: label}, &out)
	return out, err
}

// SyncStatus calls GET /api/v1/sync/status. Returns ErrNoRun when the
// server has not finished a run since it started.
func (c *Client) SyncStatus(ctx context.Context) (RunResult, error) {
	var out RunResult
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return out, ErrNoRun
	}
	return out, err
}

// do sends an authenticated request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeProblem(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeProblem(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	var p struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &p) == nil {
		if p.Title != "" {
			apiErr.Title = p.Title
		}
		apiErr.Detail = p.Detail
	}
	return apiErr
}
