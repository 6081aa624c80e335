package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the subsystem.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindConnectionFailed
	KindInvalidResponse
	KindDecoding
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection_failed"
	case KindInvalidResponse:
		return "invalid_response"
	case KindDecoding:
		return "decoding_error"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingOrder is the cause of a decoding error for payloads without an order.
	ErrMissingOrder = errors.New("order object is missing")
	// ErrMissingStatus is the cause of a decoding error for orders without a status.
	ErrMissingStatus = errors.New("order status is missing")
	// ErrUnknownStatus is the cause of a decoding error for unrecognized statuses.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrEmptyBody is the cause of a decoding error for empty payloads.
	ErrEmptyBody = errors.New("empty body")
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed}
	ErrInvalidResponse  = &Error{Kind: KindInvalidResponse}
	ErrDecoding         = &Error{Kind: KindDecoding}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

// Error is the failure value delivered to callers. It carries enough to
// classify the failure; retrying is internal to the subsystem.
type Error struct {
	Kind  ErrorKind
	Cause error

	retryable bool
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels (no cause) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Cause != nil {
		return false
	}
	return e.Kind == t.Kind
}

// Timeout wraps a request that did not complete in time.
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Cause: cause, retryable: true}
}

// ConnectionFailed wraps a transport-level failure.
func ConnectionFailed(cause error) *Error {
	return &Error{Kind: KindConnectionFailed, Cause: cause, retryable: true}
}

// StatusCodeError is the cause of an invalid response with a non-2xx code.
type StatusCodeError struct {
	Code int
}

func (e *StatusCodeError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// InvalidStatus wraps a non-2xx response. These feed the retry policy.
func InvalidStatus(code int) *Error {
	return &Error{Kind: KindInvalidResponse, Cause: &StatusCodeError{Code: code}, retryable: true}
}

// InvalidResponse wraps a 2xx response whose shape cannot be used.
func InvalidResponse(cause error) *Error {
	return &Error{Kind: KindInvalidResponse, Cause: cause}
}

// Decoding wraps a payload that could not be decoded into an event.
func Decoding(cause error) *Error {
	return &Error{Kind: KindDecoding, Cause: cause}
}

// Unknown wraps the last cause seen before giving up.
func Unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, Cause: cause}
}

// KindOf returns the outermost kind found in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether a fetch failure may succeed on a later attempt.
// Errors outside the taxonomy are treated as transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.retryable
	}
	return true
}

// AsError maps any error into the taxonomy.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	return ConnectionFailed(err)
}
