package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies an error category.
type ErrorCode string

const (
	// CodeValidation marks a malformed enqueue request or sync option.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeIOFailure marks an Action Log that cannot be read or written.
	CodeIOFailure ErrorCode = "IO_FAILURE"

	// CodeRetryableTransport marks a transient remote failure.
	CodeRetryableTransport ErrorCode = "RETRYABLE_TRANSPORT"

	// CodeTerminalApplication marks a remote rejection that must not be retried.
	CodeTerminalApplication ErrorCode = "TERMINAL_APPLICATION"

	// CodeCancelled marks a pass stopped between chunks by its context.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeSyncInProgress marks a pass refused because another is running.
	CodeSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation     = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrIOFailure      = &Error{Code: CodeIOFailure, Message: "action log unavailable"}
	ErrCancelled      = &Error{Code: CodeCancelled, Message: "sync cancelled"}
	ErrSyncInProgress = &Error{Code: CodeSyncInProgress, Message: "sync already in progress"}
)

// NewError builds an *Error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IOFailure wraps a storage error.
func IOFailure(op string, err error) error {
	return &Error{Code: CodeIOFailure, Message: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsIOFailure returns true if err is an Action Log IO failure.
func IsIOFailure(err error) bool { return CodeOf(err) == CodeIOFailure }

// IsCancelled returns true if a pass was stopped by its context.
func IsCancelled(err error) bool { return CodeOf(err) == CodeCancelled }

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is the full list of problems found in one request.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when v is empty, otherwise a CodeValidation *Error wrapping v.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return &Error{Code: CodeValidation, Message: "invalid request", Err: v}
}
