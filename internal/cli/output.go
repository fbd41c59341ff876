package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/offsync/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every action synced, every scenario passed
	ExitFailure      = 1 // Failed or conflicting actions, failed scenarios, interrupted pass
	ExitCommandError = 2 // Bad arguments, invalid config, queue not openable
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to an exit code. Errors without one are failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope for every command in JSON mode.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // ir error code, e.g. "VALIDATION"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as JSON envelopes or text.
// Diagnostics never go through it; commands log them to stderr.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool // print error details in text mode
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. Commands with richer text output print it
// themselves and call Success only in JSON mode.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error envelope, or "Error [CODE]: message" in text mode.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// Fail reports err and returns the matching ExitError. Validation errors
// exit with ExitCommandError, the rest with ExitFailure unless err already
// carries an exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := string(codeOr(err, "ERROR"))

	var details any
	var verrs ir.ValidationErrors
	if errors.As(err, &verrs) {
		details = verrs
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	exit := ExitFailure
	if ir.IsValidation(err) {
		exit = ExitCommandError
	}
	return WrapExitError(exit, message, err)
}
