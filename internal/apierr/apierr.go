// Package apierr defines the error categories a client is allowed to see.
// Services return *Error; the transport maps Kind to a status code and never
// exposes the wrapped cause.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a client-visible error category
type Kind int

// Error kinds
const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindTooManyRequests
)

// Generic messages returned to clients
const (
	MsgInternal        = "Internal server error"
	MsgUnauthorized    = "Unauthorized"
	MsgTooManyRequests = "Too many requests"
	MsgNotFound        = "Not found"
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a categorized error. Message is safe to show to clients; Err is not.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest creates a bad request error with a client-facing message
func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// Unauthorized creates an unauthorized error
func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: MsgUnauthorized}
}

// NotFound creates a not found error
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Message: MsgNotFound}
}

// TooManyRequests creates a throttling error carrying a retry hint
func TooManyRequests(retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyRequests, Message: MsgTooManyRequests, RetryAfter: retryAfter}
}

// Internal wraps err as an internal error with the generic message
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: MsgInternal, Err: err}
}

// From converts any error to *Error. Errors that are not categorized become Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err
func KindOf(err error) Kind {
	return From(err).Kind
}
