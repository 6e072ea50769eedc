package assistant

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the machine-readable class of a request failure. It is sent to
// clients in the X-Error-Code header next to the plain-text message.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindRateLimited          Kind = "rate_limited"
	KindUpstreamUnconfigured Kind = "upstream_unconfigured"
	KindUpstreamFailure      Kind = "upstream_failure"
)

func (k Kind) Status() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a terminal request failure. Message is safe to show to clients.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Status() int {
	return e.Kind.Status()
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "Rate limit exceeded", RetryAfter: retryAfter}
}

// UpstreamFailure wraps err with its own text as the client message.
func UpstreamFailure(err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Message: err.Error(), Err: err}
}

// Classify returns the *Error in err's chain, or wraps err as an internal
// server error. It returns nil for a nil err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindUpstreamFailure, Message: "Internal server error: " + err.Error(), Err: err}
}
