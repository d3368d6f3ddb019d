package sqlgw

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	// Name is the driver name accepted in configuration and by goose.
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// MaxParams bounds the bind parameters of a single statement.
	MaxParams int
	// Pragmas run once after the connection is opened.
	Pragmas []string

	dollar bool
}

var (
	// Postgres talks to PostgreSQL (including Supabase) through pgx.
	Postgres = Dialect{
		Name:      "postgres",
		Driver:    "pgx",
		MaxParams: 65535,
		dollar:    true,
	}

	// SQLite talks to a local SQLite file through modernc.org/sqlite.
	SQLite = Dialect{
		Name:      "sqlite",
		Driver:    "sqlite",
		MaxParams: 32766,
		Pragmas: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		},
	}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d.dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Quote quotes an identifier. Both dialects accept standard double quotes.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// isDrift reports whether err was caused by a column the backend does not
// know about.
func isDrift(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42703" // undefined_column
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named")
}
