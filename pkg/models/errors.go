package models

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError reports malformed caller input (identifier or URL),
// rejected before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError wraps a transport failure. It carries the HTTP status code
// when one was received (0 otherwise). Retrying is the caller's decision;
// nothing retries automatically.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports an unexpected response shape. The extractor reacts by
// trying its fallback paths; the paginator by stopping with partial results.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected shape at %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrCancelled marks user-initiated cancellation, which is distinct from
// failure and never surfaced to the user as an error.
var ErrCancelled = errors.New("cancelled")

// PersistenceError reports an I/O failure writing or reading session state.
// Callers log it and carry on; the in-memory record stays authoritative.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from cancellation rather than failure
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
