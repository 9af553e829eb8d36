// Package apperr defines the error taxonomy shared by the upstream client,
// the idempotency guard and the tool layer. Every error that crosses the
// tool boundary is an *Error carrying a stable machine-readable code and
// the HTTP status it maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class in tool results and logs.
type Code string

const (
	// CodeAuthRequired indicates the user has no usable upstream token and
	// must re-run the authorization flow.
	CodeAuthRequired Code = "TICKTICK_AUTH_REQUIRED"

	// CodeRateLimited indicates the caller exceeded this server's own
	// per-user tool rate limit.
	CodeRateLimited Code = "MCP_RATE_LIMITED"

	// CodeUpstreamRateLimited indicates TickTick rate limited us and
	// retries were exhausted.
	CodeUpstreamRateLimited Code = "TICKTICK_RATE_LIMITED"

	// CodeUpstreamAPI covers non-2xx upstream responses, network failures
	// and malformed upstream payloads.
	CodeUpstreamAPI Code = "TICKTICK_API_ERROR"

	// CodeTaskNotFound indicates the task does not exist, including the
	// case where the upstream still serves a stale copy of a deleted task.
	CodeTaskNotFound Code = "TASK_NOT_FOUND"

	// CodeValidation indicates the tool arguments were rejected before any
	// upstream call.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeDuplicateIdempotencyKey indicates a mutation was already admitted
	// under the same idempotency key.
	CodeDuplicateIdempotencyKey Code = "DUPLICATE_IDEMPOTENCY_KEY"

	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is the structured error returned across component boundaries.
type Error struct {
	Code    Code
	Message string
	Status  int            // HTTP status the error maps to
	Details map[string]any // optional, serialized into tool error payloads
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New creates an error with an explicit code and status.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// AuthRequired reports that the user must (re-)authorize.
func AuthRequired(message string) *Error {
	if message == "" {
		message = "authorization required: connect your TickTick account first"
	}
	return New(CodeAuthRequired, http.StatusUnauthorized, message)
}

// RateLimited reports exhaustion of this server's per-user limit.
func RateLimited(message string) *Error {
	if message == "" {
		message = "too many requests, slow down and retry"
	}
	return New(CodeRateLimited, http.StatusTooManyRequests, message)
}

// UpstreamRateLimited reports exhausted retries against a 429ing upstream.
func UpstreamRateLimited(message string) *Error {
	if message == "" {
		message = "TickTick is rate limiting requests, retry later"
	}
	return New(CodeUpstreamRateLimited, http.StatusTooManyRequests, message)
}

// UpstreamAPI reports a non-retryable upstream failure. status is the
// upstream HTTP status when one was received, otherwise 502.
func UpstreamAPI(status int, message string) *Error {
	if status == 0 {
		status = http.StatusBadGateway
	}
	return New(CodeUpstreamAPI, status, message)
}

// Network reports a transport-level failure after retries were exhausted.
func Network(err error) *Error {
	e := New(CodeUpstreamAPI, http.StatusBadGateway, "upstream network failure")
	e.wrapped = err
	return e
}

// Timeout reports an upstream call that exceeded its time budget.
func Timeout(operation string) *Error {
	return New(CodeUpstreamAPI, http.StatusGatewayTimeout, fmt.Sprintf("upstream timeout during %s", operation))
}

// TaskNotFound reports a missing (or tombstoned) task.
func TaskNotFound(projectID, taskID string) *Error {
	e := New(CodeTaskNotFound, http.StatusNotFound, "task not found")
	e.Details = map[string]any{"projectId": projectID, "taskId": taskID}
	return e
}

// Validation reports rejected input. details may be nil.
func Validation(message string, details map[string]any) *Error {
	e := New(CodeValidation, http.StatusBadRequest, message)
	e.Details = details
	return e
}

// DuplicateIdempotencyKey reports a replayed mutation.
func DuplicateIdempotencyKey(operation, key string) *Error {
	e := New(CodeDuplicateIdempotencyKey, http.StatusBadRequest,
		"duplicate idempotency key: this mutation was already submitted")
	e.Details = map[string]any{"operation": operation, "idempotencyKey": key}
	return e
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	e := New(CodeInternal, http.StatusInternalServerError, "internal error")
	e.wrapped = err
	return e
}

// From classifies err into an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
