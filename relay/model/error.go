package model

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ValidationDetail is one field-level entry of a 422 validation error.
type ValidationDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error is the wire error body, rendered inside an {"error": ...} envelope.
// Code carries the HTTP-style numeric code for the native dialect or a string
// code for the OpenAI dialect.
type Error struct {
	Code    any                `json:"code,omitempty"`
	Message string             `json:"message"`
	Type    string             `json:"type,omitempty"`
	Details []ValidationDetail `json:"details,omitempty"`

	// RawError preserves the underlying error for logging; never serialized.
	RawError error `json:"-"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.RawError != nil {
		return e.RawError.Error()
	}
	return fmt.Sprintf("code=%v message=%s", e.Code, e.Message)
}

// ErrorWithStatusCode pairs a wire error body with the HTTP status to send.
type ErrorWithStatusCode struct {
	Error      Error `json:"error"`
	StatusCode int   `json:"-"`

	// KeepReservation marks upstream quota exhaustion: the per-key
	// reservation must stand so the exhausted quota stays accounted.
	KeepReservation bool `json:"-"`

	// RetryAfter, when positive, is rendered as a Retry-After header.
	RetryAfter time.Duration `json:"-"`
}

// String renders the full error body for logs.
func (e *ErrorWithStatusCode) String() string {
	data, _ := json.Marshal(e)
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, data)
}

// ErrorWrapper wraps an internal error into a relay error response.
func ErrorWrapper(err error, code string, statusCode int) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		Error: Error{
			Message:  err.Error(),
			Type:     "gemini_balance_error",
			Code:     code,
			RawError: err,
		},
		StatusCode: statusCode,
	}
}

// ErrorWrapperf formats a message into a relay error response.
func ErrorWrapperf(statusCode int, code string, format string, args ...any) *ErrorWithStatusCode {
	return ErrorWrapper(fmt.Errorf(format, args...), code, statusCode)
}

// ValidationError builds a 422 response carrying field-level details.
func ValidationError(msg string, details []ValidationDetail) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		Error: Error{
			Code:    http.StatusUnprocessableEntity,
			Message: msg,
			Type:    "invalid_request_error",
			Details: details,
		},
		StatusCode: http.StatusUnprocessableEntity,
	}
}
