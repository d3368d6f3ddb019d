package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leobook/leosync/internal/remote"
	"github.com/leobook/leosync/internal/retry"
	"github.com/leobook/leosync/internal/store"
)

// Kind classifies a sync failure.
type Kind string

const (
	KindNone              Kind = ""
	KindLocalIO           Kind = "LocalIOError"
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	KindSchemaDrift       Kind = "SchemaDrift"
	KindParityMismatch    Kind = "ParityMismatch"
	KindMissingKey        Kind = "MissingKeyError"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "Internal"
)

var (
	// ErrSyncInProgress is returned when another run holds the sync lock.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrParityMismatch matches every ParityMismatchError.
	ErrParityMismatch = errors.New("parity mismatch")
	// ErrPanic marks a table cycle that panicked.
	ErrPanic = errors.New("table cycle panicked")
)

// StageError records the stage a table cycle failed in.
type StageError struct {
	Table string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", strings.ToLower(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ParityMismatchError reports a pushed key whose remote last_updated does
// not agree with the local value. Remote is empty when the row is missing.
type ParityMismatchError struct {
	Table  string
	Key    string
	Local  string
	Remote string
}

func (e *ParityMismatchError) Error() string {
	if e.Remote == "" {
		return fmt.Sprintf("parity %s[%s]: row missing remotely", e.Table, e.Key)
	}
	return fmt.Sprintf("parity %s[%s]: local %s, remote %s", e.Table, e.Key, e.Local, e.Remote)
}

func (e *ParityMismatchError) Unwrap() error {
	return ErrParityMismatch
}

// SchemaDriftError reports remote columns unknown to the registry. Pulls
// tolerate it by extending the local header.
type SchemaDriftError struct {
	Table   string
	Columns []string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift %s: unknown columns %s", e.Table, strings.Join(e.Columns, ", "))
}

func (e *SchemaDriftError) Unwrap() error {
	return remote.ErrSchemaDrift
}

// ErrorKind classifies err.
func ErrorKind(err error) Kind {
	var (
		localErr   *store.LocalIOError
		missingErr *store.MissingKeyError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &localErr):
		return KindLocalIO
	case errors.As(err, &missingErr):
		return KindMissingKey
	case errors.Is(err, ErrParityMismatch):
		return KindParityMismatch
	case errors.Is(err, remote.ErrSchemaDrift):
		return KindSchemaDrift
	case errors.Is(err, remote.ErrUnavailable), errors.Is(err, retry.ErrExhausted):
		return KindRemoteUnavailable
	}
	return KindInternal
}
