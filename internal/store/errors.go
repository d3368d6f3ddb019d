package store

import (
	"errors"
	"fmt"
)

var (
	ErrMissingKey = errors.New("record has no key value")
	ErrAppendOnly = errors.New("table is append-only")
)

// LocalIOError reports a failure to read or write a table file.
type LocalIOError struct {
	Table string
	Path  string
	Op    string // "read", "write", "append"
	Err   error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Table, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// MissingKeyError reports an upsert whose record carries no key value.
type MissingKeyError struct {
	Table    string
	KeyField string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("upsert %s: missing key field %q", e.Table, e.KeyField)
}

func (e *MissingKeyError) Unwrap() error {
	return ErrMissingKey
}
