// Package ragerr defines the structured error type shared across the
// retrieval core. Errors carry a kind, a retryable flag, and the
// underlying cause so callers can branch without string matching.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindNotConfigured marks a missing or disabled dependency
	// (embedder, reranker, vector engine).
	KindNotConfigured Kind = "not_configured"
	// KindNotFound marks an absent file, document, or registry entry.
	KindNotFound Kind = "not_found"
	// KindTransientIO marks a retryable I/O or network failure.
	KindTransientIO Kind = "transient_io"
	// KindCorruption marks non-retryable data damage: hash mismatch,
	// malformed FTS query, embedding dimension mismatch.
	KindCorruption Kind = "corruption"
	// KindTimeout marks an exceeded per-operation budget.
	KindTimeout Kind = "timeout"
	// KindCancelled marks a shutdown-driven unwind.
	KindCancelled Kind = "cancelled"
	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// Error is the structured error for the retrieval core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error-chain support.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the operation may be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientIO || e.Kind == KindTimeout
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
// Returns nil when err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a retryable core error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
