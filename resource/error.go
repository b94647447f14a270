package resource

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Error describes a failed request or a failed processing step. It always
// carries a non-empty user-presentable message, and optionally the HTTP
// status, the server-supplied error body, and a structured cause.
type Error struct {
	// UserMessage is a human-readable description, always non-empty.
	UserMessage string

	// HTTPStatusCode is the response status, or 0 when the failure never
	// produced a status (transport errors, local processing errors).
	HTTPStatusCode int

	// Entity holds the server-supplied error body, if any.
	Entity *Entity

	// Cause is the underlying structured cause, one of the Err… sentinels
	// of this package or a transport-supplied error.
	Cause error

	// Timestamp records when the error occurred.
	Timestamp time.Time
}

// newError builds an Error, deriving UserMessage in priority order from the
// explicit message, the cause's own message, the HTTP status text, and a
// generic fallback.
func newError(message string, statusCode int, entity *Entity, cause error) *Error {
	msg := message
	if msg == "" && cause != nil {
		msg = strings.TrimPrefix(cause.Error(), "resource: ")
	}
	if msg == "" && statusCode > 0 {
		msg = http.StatusText(statusCode)
	}
	if msg == "" {
		msg = "Request failed"
	}
	return &Error{
		UserMessage:    msg,
		HTTPStatusCode: statusCode,
		Entity:         entity,
		Cause:          cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.UserMessage
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCancellation reports whether this error represents a cancelled request
// rather than an ordinary failure. Cancellations are never written to a
// resource's latestError.
func (e *Error) IsCancellation() bool {
	return e.Cause != nil && errors.Is(e.Cause, ErrRequestCancelled)
}
