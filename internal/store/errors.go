package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for categorizing store failures, grounded on the
// teacher's internal/storage/errors.go StorageError set, trimmed to the
// operations this package performs against sqlite.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrOpenFailed = errors.New("store: failed to open database")
)

// opError wraps a failed operation with enough context for logs without
// losing errors.Is/As support on the underlying driver error.
type opError struct {
	Op    string
	Table string
	Err   error
}

func (e *opError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

func (e *opError) Unwrap() error { return e.Err }

func wrapErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{Op: op, Table: table, Err: err}
}
