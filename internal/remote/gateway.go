// Package remote defines the contract every remote backend satisfies and
// the value and field translation applied on the way in and out.
//
// A backend offers three operations: a paginated {key, last_updated}
// projection, a keyed batch read and a batch upsert with a conflict key.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leobook/leosync/internal/schema"
)

// Row is a record in remote form: remote column names, typed values, nil
// for null.
type Row = map[string]any

// MetadataEntry is the lightweight projection used for delta computation.
// Composite keys are comma-joined in key field order.
type MetadataEntry struct {
	Key         string
	LastUpdated string
}

// Gateway is a remote backend.
type Gateway interface {
	// FetchMetadata returns up to limit {key, last_updated} entries starting
	// at offset, in a stable order.
	FetchMetadata(ctx context.Context, t schema.Table, offset, limit int) ([]MetadataEntry, error)

	// FetchRows returns the full rows whose key is in keys.
	FetchRows(ctx context.Context, t schema.Table, keys []string) ([]Row, error)

	// UpsertRows inserts rows or updates them on conflict with the table key.
	UpsertRows(ctx context.Context, t schema.Table, rows []Row) error

	// Driver names the backend for logs and health output.
	Driver() string

	Close() error
}

var (
	// ErrUnavailable marks transport and server-side failures.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrSchemaDrift marks requests rejected because the remote column set
	// differs from the local one.
	ErrSchemaDrift = errors.New("remote schema drift")
)

// Error wraps a failed remote operation.
type Error struct {
	Op         string // "fetch_metadata", "fetch_rows", "upsert"
	Table      string
	StatusCode int // HTTP status when the backend is HTTP, else 0
	Drift      bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %v", e.Op, e.Table, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is classifies the error as ErrSchemaDrift or ErrUnavailable.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSchemaDrift:
		return e.Drift
	case ErrUnavailable:
		return !e.Drift
	}
	return false
}

// SplitKey reverses the comma-joined composite key encoding.
func SplitKey(key string) []string {
	return strings.Split(key, ",")
}
