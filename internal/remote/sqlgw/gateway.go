// Package sqlgw implements remote.Gateway over database/sql. PostgreSQL is
// reached through pgx and SQLite through modernc.org/sqlite.
package sqlgw

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/schema"
)

// Gateway is a SQL-backed remote store.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// Open connects to dsn with the named dialect and applies its pragmas.
// Migrations are not run; call Migrate for that.
func Open(dialectName, dsn string, opts ...Option) (*Gateway, error) {
	d, err := DialectFor(dialectName)
	if err != nil {
		return nil, err
	}

	if d.Name == SQLite.Name {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range d.Pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return New(db, d, opts...), nil
}

// New wraps an open database handle.
func New(db *sql.DB, d Dialect, opts ...Option) *Gateway {
	g := &Gateway{db: db, dialect: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "remote", "driver", d.Name)
	return g
}

// Driver returns the dialect name.
func (g *Gateway) Driver() string {
	return g.dialect.Name
}

// Close closes the database handle.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Ping verifies the connection.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// FetchMetadata returns {key, last_updated} ordered by key.
func (g *Gateway) FetchMetadata(ctx context.Context, t schema.Table, offset, limit int) ([]remote.MetadataEntry, error) {
	keys := g.keyColumns(t)
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s LIMIT %s OFFSET %s",
		strings.Join(keys, ", "),
		g.dialect.Quote(schema.LastUpdated),
		g.dialect.Quote(t.Name),
		strings.Join(keys, ", "),
		g.dialect.Placeholder(1),
		g.dialect.Placeholder(2),
	)

	rows, err := g.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, g.wrap("fetch_metadata", t, err)
	}
	defer rows.Close()

	var out []remote.MetadataEntry
	for rows.Next() {
		vals := make([]any, len(keys)+1)
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, g.wrap("fetch_metadata", t, err)
		}

		parts := make([]string, len(keys))
		for i := range keys {
			parts[i] = strings.TrimSpace(remote.Stringify(vals[i], false))
		}
		out = append(out, remote.MetadataEntry{
			Key:         strings.Join(parts, ","),
			LastUpdated: remote.Stringify(vals[len(keys)], false),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, g.wrap("fetch_metadata", t, err)
	}
	return out, nil
}

// FetchRows returns the full rows whose key is in keys.
func (g *Gateway) FetchRows(ctx context.Context, t schema.Table, keys []string) ([]remote.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	fields := t.KeyFields()
	perStmt := g.dialect.MaxParams / len(fields)

	var out []remote.Row
	for _, batch := range remote.Chunk(keys, perStmt) {
		query, args := g.selectByKeys(t, fields, batch)
		rows, err := g.query(ctx, query, args)
		if err != nil {
			return nil, g.wrap("fetch_rows", t, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (g *Gateway) selectByKeys(t schema.Table, fields []string, keys []string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE ", g.dialect.Quote(t.Name))

	args := make([]any, 0, len(keys)*len(fields))
	if len(fields) == 1 {
		b.WriteString(g.dialect.Quote(remote.RemoteColumn(fields[0])))
		b.WriteString(" IN (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, k)
			b.WriteString(g.dialect.Placeholder(len(args)))
		}
		b.WriteString(")")
		return b.String(), args
	}

	for i, k := range keys {
		if i > 0 {
			b.WriteString(" OR ")
		}
		parts := remote.SplitKey(k)
		b.WriteString("(")
		for j, f := range fields {
			if j > 0 {
				b.WriteString(" AND ")
			}
			v := ""
			if j < len(parts) {
				v = parts[j]
			}
			args = append(args, v)
			fmt.Fprintf(&b, "%s = %s", g.dialect.Quote(remote.RemoteColumn(f)), g.dialect.Placeholder(len(args)))
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func (g *Gateway) query(ctx context.Context, query string, args []any) ([]remote.Row, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []remote.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(remote.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertRows inserts rows, updating every supplied column when the table
// key already exists. Rows sharing a key are collapsed first so a single
// statement never touches the same key twice.
func (g *Gateway) UpsertRows(ctx context.Context, t schema.Table, rows []remote.Row) error {
	rows = remote.Dedupe(t, rows)
	if len(rows) == 0 {
		return nil
	}
	cols := remote.Columns(rows)
	perStmt := g.dialect.MaxParams / len(cols)

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return g.wrap("upsert", t, err)
	}
	defer tx.Rollback()

	for _, batch := range remote.Chunk(rows, perStmt) {
		stmt, args := g.upsertStatement(t, cols, batch)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return g.wrap("upsert", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return g.wrap("upsert", t, err)
	}
	g.logger.Debug("rows upserted", "table", t.Name, "count", len(rows))
	return nil
}

func (g *Gateway) upsertStatement(t schema.Table, cols []string, rows []remote.Row) (string, []any) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.dialect.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", g.dialect.Quote(t.Name), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, r[c])
			b.WriteString(g.dialect.Placeholder(len(args)))
		}
		b.WriteString(")")
	}

	conflict := g.keyColumns(t)
	fmt.Fprintf(&b, " ON CONFLICT (%s) ", strings.Join(conflict, ", "))

	var sets []string
	for i, c := range cols {
		if isKey(t, c) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
	}
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String(), args
}

func isKey(t schema.Table, remoteCol string) bool {
	for _, f := range t.KeyFields() {
		if remote.RemoteColumn(f) == remoteCol {
			return true
		}
	}
	return false
}

func (g *Gateway) keyColumns(t schema.Table) []string {
	fields := t.KeyFields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = g.dialect.Quote(remote.RemoteColumn(f))
	}
	return out
}

func (g *Gateway) wrap(op string, t schema.Table, err error) error {
	return &remote.Error{Op: op, Table: t.Name, Drift: isDrift(err), Err: err}
}
