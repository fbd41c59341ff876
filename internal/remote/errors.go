package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/roach88/offsync/internal/ir"
)

// TransportError is a failure below the response level: the request could not
// be delivered or the reply could not be read.
type TransportError struct {
	// Op names the failing step ("exec", "post", "decode response").
	Op string

	// Retryable is the transport's own judgement of the failure.
	Retryable bool

	// StatusCode is the HTTP status, when there was one.
	StatusCode int

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code maps the error onto the shared taxonomy.
func (e *TransportError) Code() ir.ErrorCode {
	if e.Retryable {
		return ir.CodeRetryableTransport
	}
	return ir.CodeTerminalApplication
}

// IsRetryable reports whether a transport-level error is worth another attempt.
//
// Retryable: TransportError with Retryable set, context.DeadlineExceeded, and
// net.Error timeouts. context.Canceled never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// legacyErrorKind is the message heuristic used by remotes that do not send
// error_kind.
func legacyErrorKind(message string) ir.ErrorKind {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "network") || strings.Contains(lower, "timeout") {
		return ir.ErrorKindRetryable
	}
	return ir.ErrorKindTerminal
}
