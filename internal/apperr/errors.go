// Package apperr defines the protocol-agnostic error taxonomy.
//
// Use-cases return *Error values with a stable Kind and Code; the protocol
// adapters translate them into their envelope (HTTP status code or the MCP
// tool error payload). Backend-specific errors never cross the use-case
// boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of transport.
type Kind string

const (
	// KindValidation indicates bad input rejected before any I/O.
	KindValidation Kind = "validation"

	// KindNotFound indicates a missing collection, file, or chunk.
	KindNotFound Kind = "not_found"

	// KindConflict indicates a duplicate name or already-exists condition.
	KindConflict Kind = "conflict"

	// KindStorage indicates a disk or database I/O failure.
	KindStorage Kind = "storage"

	// KindUnavailable indicates a down dependency (vector store,
	// embedding provider, or LLM).
	KindUnavailable Kind = "dependency_unavailable"

	// KindChunkMetadata indicates chunk metadata that cannot be
	// normalized to primitives.
	KindChunkMetadata Kind = "chunk_metadata"

	// KindCancelled indicates the caller cancelled the operation.
	KindCancelled Kind = "cancelled"

	// KindInternal indicates an unexpected failure.
	KindInternal Kind = "internal"
)

// Error is the single error type crossing the use-case boundary.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

// E constructs an Error with a stable code and message.
func E(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Errorf constructs an Error with a formatted message.
func Errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause without leaking it into the message.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy carrying structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the Kind of err, or KindInternal for foreign errors.
// Context cancellation is recognized regardless of wrapping.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal_error".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return "internal_error"
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// DetailsOf returns the structured details of err, if any.
func DetailsOf(err error) map[string]any {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}

// ErrCancelled is a sentinel matched by KindOf for cooperative cancellation.
var ErrCancelled = errors.New("operation cancelled")

// FromContext converts a context error into the taxonomy.
func FromContext(err error) *Error {
	return Wrap(KindCancelled, "cancelled", "operation cancelled", err)
}
