package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// ErrNothingSubmitted is returned when an upload request carried no fields and no files.
var ErrNothingSubmitted = &ErrorWithStatusCode{Message: "No fields or files were submitted", StatusCode: http.StatusNotFound}

// Is reports whether err (or anything it wraps) is of type T.
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// ValidationError is a caller mistake: missing field, empty file set, bad flag.
// Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation error: %s", e.Message)
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NoFilesError means a session had nothing to deliver.
type NoFilesError struct {
	SessionID string
}

func (e *NoFilesError) Error() string {
	return fmt.Sprintf("no pending files for session %q", e.SessionID)
}

// ExternalServiceError wraps a failed call to the chat service.
// Retryable is set for rate limiting and transient transport failures.
type ExternalServiceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("external service %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed database operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StatusCode maps an error to the HTTP status the handlers answer with.
func StatusCode(err error) int {
	var withStatus *ErrorWithStatusCode
	if errors.As(err, &withStatus) {
		return withStatus.StatusCode
	}
	switch {
	case Is[*ValidationError](err):
		return http.StatusBadRequest
	case Is[*NoFilesError](err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
