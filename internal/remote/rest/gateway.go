// Package rest implements remote.Gateway over a PostgREST HTTP API such as
// the one Supabase exposes under /rest/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/schema"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// Gateway is a PostgREST-backed remote store.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// New creates a gateway for the project at baseURL (for example
// https://xyz.supabase.co). The service key is sent as apikey and bearer.
func New(baseURL, apiKey string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "remote", "driver", "rest")
	return g
}

// Driver returns "rest".
func (g *Gateway) Driver() string {
	return "rest"
}

// Close releases idle connections.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// FetchMetadata returns {key, last_updated} ordered by key.
func (g *Gateway) FetchMetadata(ctx context.Context, t schema.Table, offset, limit int) ([]remote.MetadataEntry, error) {
	keys := remoteKeys(t)

	q := url.Values{}
	q.Set("select", strings.Join(append(keys, schema.LastUpdated), ","))
	q.Set("order", orderBy(keys))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	rows, err := g.get(ctx, "fetch_metadata", t, q)
	if err != nil {
		return nil, err
	}

	out := make([]remote.MetadataEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, remote.MetadataEntry{
			Key:         remote.KeyOf(t, r),
			LastUpdated: remote.Stringify(r[schema.LastUpdated], false),
		})
	}
	return out, nil
}

// FetchRows returns the full rows whose key is in keys.
func (g *Gateway) FetchRows(ctx context.Context, t schema.Table, keys []string) ([]remote.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	fields := remoteKeys(t)

	q := url.Values{}
	q.Set("select", "*")
	if len(fields) == 1 {
		q.Set(fields[0], "in.("+quoteList(keys)+")")
	} else {
		var terms []string
		for _, k := range keys {
			parts := remote.SplitKey(k)
			conds := make([]string, len(fields))
			for i, f := range fields {
				v := ""
				if i < len(parts) {
					v = parts[i]
				}
				conds[i] = f + ".eq." + quote(v)
			}
			terms = append(terms, "and("+strings.Join(conds, ",")+")")
		}
		q.Set("or", "("+strings.Join(terms, ",")+")")
	}

	return g.get(ctx, "fetch_rows", t, q)
}

// UpsertRows posts rows with merge-duplicates resolution on the table key.
func (g *Gateway) UpsertRows(ctx context.Context, t schema.Table, rows []remote.Row) error {
	rows = remote.Dedupe(t, rows)
	if len(rows) == 0 {
		return nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return &remote.Error{Op: "upsert", Table: t.Name, Err: err}
	}

	q := url.Values{}
	q.Set("on_conflict", strings.Join(remoteKeys(t), ","))
	q.Set("columns", strings.Join(remote.Columns(rows), ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tableURL(t, q), bytes.NewReader(body))
	if err != nil {
		return &remote.Error{Op: "upsert", Table: t.Name, Err: err}
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := g.client.Do(req)
	if err != nil {
		return &remote.Error{Op: "upsert", Table: t.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return responseError("upsert", t, resp)
	}
	g.logger.Debug("rows upserted", "table", t.Name, "count", len(rows))
	return nil
}

func (g *Gateway) get(ctx context.Context, op string, t schema.Table, q url.Values) ([]remote.Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.tableURL(t, q), nil)
	if err != nil {
		return nil, &remote.Error{Op: op, Table: t.Name, Err: err}
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &remote.Error{Op: op, Table: t.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(op, t, resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []remote.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, &remote.Error{Op: op, Table: t.Name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return rows, nil
}

func (g *Gateway) tableURL(t schema.Table, q url.Values) string {
	return g.baseURL + "/rest/v1/" + url.PathEscape(t.Name) + "?" + q.Encode()
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "leosync/1.0")
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// driftCodes are PostgREST and PostgreSQL codes for an unknown column.
var driftCodes = map[string]bool{
	"PGRST204": true, // column not found in schema cache
	"42703":    true, // undefined_column
}

func responseError(op string, t schema.Table, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body apiError
	_ = json.Unmarshal(raw, &body)

	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}
	if body.Code != "" {
		msg = body.Code + ": " + msg
	}

	return &remote.Error{
		Op:         op,
		Table:      t.Name,
		StatusCode: resp.StatusCode,
		Drift:      driftCodes[body.Code],
		Err:        fmt.Errorf("%s", msg),
	}
}

func remoteKeys(t schema.Table) []string {
	fields := t.KeyFields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = remote.RemoteColumn(f)
	}
	return out
}

func orderBy(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + ".asc"
	}
	return strings.Join(parts, ",")
}

// quote wraps a filter value in double quotes so reserved characters
// (commas, parentheses, dots) survive PostgREST's filter grammar.
func quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

func quoteList(vs []string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = quote(v)
	}
	return strings.Join(parts, ",")
}
