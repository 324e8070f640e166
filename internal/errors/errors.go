// Package errors provides the stable error taxonomy surfaced to tool
// clients.
//
// Every component boundary translates low-level storage or provider errors
// into one of the coded kinds below; the underlying chain is preserved for
// errors.Is / errors.As and carried to clients in the error data payload.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind is a stable machine-readable error code.
type Kind string

const (
	// KindValidation indicates input that violates schema or invariants.
	// Not retryable.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindNotFound indicates a referenced id is absent.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict indicates a unique-constraint violation.
	KindConflict Kind = "CONFLICT"
	// KindDependencyUnavailable indicates storage or the embedding provider
	// is offline. Retryable.
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	// KindDegraded indicates a non-fatal partial failure; a result is still
	// returned with degraded=true.
	KindDegraded Kind = "DEGRADED"
	// KindTimeout indicates the per-call deadline was exceeded.
	KindTimeout Kind = "TIMEOUT"
	// KindCancelled indicates caller-initiated cancellation.
	KindCancelled Kind = "CANCELLED"
)

// Retryable reports whether callers may retry after this kind of failure.
func (k Kind) Retryable() bool {
	return k == KindDependencyUnavailable || k == KindTimeout
}

// AppError is the structured error carried across component boundaries and
// serialized into tool error responses.
type AppError struct {
	Kind    Kind           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	// RetryAfterMs is populated for retryable kinds.
	RetryAfterMs int   `json:"retry_after_ms,omitempty"`
	Cause        error `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches AppErrors by kind so callers can use errors.Is with sentinel
// instances.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if stderrors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// MarshalJSON keeps the wire shape stable.
func (e *AppError) MarshalJSON() ([]byte, error) {
	type alias AppError
	a := (*alias)(e)
	if e.Cause != nil {
		if a.Data == nil {
			a.Data = map[string]any{}
		}
		a.Data["cause"] = e.Cause.Error()
	}
	return json.Marshal(a)
}

// New creates an AppError of the given kind.
func New(kind Kind, format string, args ...any) *AppError {
	e := &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if kind.Retryable() {
		e.RetryAfterMs = defaultRetryAfterMs
	}
	return e
}

// Wrap attaches a kind to an existing error, preserving the chain.
func Wrap(kind Kind, cause error, format string, args ...any) *AppError {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// WithData attaches a data payload.
func (e *AppError) WithData(data map[string]any) *AppError {
	e.Data = data
	return e
}

const defaultRetryAfterMs = 1000

// Validation builds a VALIDATION_ERROR.
func Validation(format string, args ...any) *AppError {
	return New(KindValidation, format, args...)
}

// NotFound builds a NOT_FOUND for the given entity and id.
func NotFound(entity, id string) *AppError {
	return New(KindNotFound, "%s not found: %s", entity, id)
}

// Conflict builds a CONFLICT.
func Conflict(format string, args ...any) *AppError {
	return New(KindConflict, format, args...)
}

// Unavailable builds a DEPENDENCY_UNAVAILABLE wrapping the cause.
func Unavailable(dep string, cause error) *AppError {
	return Wrap(KindDependencyUnavailable, cause, "%s unavailable", dep)
}

// KindOf extracts the kind of an error, or "" when it carries none.
func KindOf(err error) Kind {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether the first AppError in err's chain has the given
// kind. Kinds of AppErrors further down the chain are not consulted.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
