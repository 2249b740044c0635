// Package errs provides the unified error type used across all of filehop.
//
// Every transport (local, FTP, SFTP, HTTP, S3) and every warehouse loader wraps
// its native client errors into *errs.Error before returning them. Callers use
// the Is* predicates to decide what to do without importing backend packages,
// and the retry layer uses IsRetryable to decide whether to spend budget.
//
// Usage:
//
//	// In a transport, wrap native errors:
//	return errs.Wrap(errs.ErrKindNotFound, "remote file missing", err)
//
//	// In an orchestrator, check the error kind:
//	if errs.IsNotFound(err) {
//	    // nothing to pick up this round
//	}
package errs

import (
	"context"
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing backend-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no file, no object, no bucket
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // deadline exceeded, request timeout
	ErrKindTransient                // throttling, 5xx, connection reset
	ErrKindOperationFailed          // backend rejected the operation
	ErrKindInvalidInput             // malformed connection string or arguments
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindConflict                 // destination exists, bucket owned elsewhere
	ErrKindPartialBatch             // part of a bulk operation failed
	ErrKindUnsupported              // the backend cannot do this
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindTransient:
		return "transient"
	case ErrKindOperationFailed:
		return "operation_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindConflict:
		return "conflict"
	case ErrKindPartialBatch:
		return "partial_batch"
	case ErrKindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all filehop subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original client-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
// A nil cause yields a nil *Error so callers can write `return errs.Wrap(...)`
// after a call that may or may not have failed.
func Wrap(kind ErrKind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Parse is a shorthand for malformed connection strings.
func Parse(format string, args ...any) *Error {
	return Newf(ErrKindInvalidInput, "parse: "+format, args...)
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing file, object or bucket.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsTransient reports whether err is a throttling or server-side hiccup.
func IsTransient(err error) bool {
	return kindOf(err) == ErrKindTransient
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller,
// including connection strings that fail to parse.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == ErrKindPermissionDenied
}

// IsConflict reports whether err is a conflict with existing remote state.
func IsConflict(err error) bool {
	return kindOf(err) == ErrKindConflict
}

// IsPartialBatch reports whether a bulk operation left some items behind.
func IsPartialBatch(err error) bool {
	return kindOf(err) == ErrKindPartialBatch
}

// IsUnsupported reports whether the backend does not implement the operation.
func IsUnsupported(err error) bool {
	return kindOf(err) == ErrKindUnsupported
}

// IsRetryable reports whether spending retry budget on err makes sense.
// Client-side faults (4xx equivalents) and cancellation short-circuit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch kindOf(err) {
	case ErrKindInvalidInput, ErrKindPermissionDenied, ErrKindNotFound,
		ErrKindConflict, ErrKindUnsupported:
		return false
	}
	return true
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
