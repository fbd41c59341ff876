package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// ExecTransport runs one child process per attempt. The request is written
// to the child's stdin as JSON and a single JSON response is read from its
// stdout.
//
// A response on stdout wins over the exit status. Start failures, timeouts,
// non-zero exits without a response, and unreadable output are retryable.
type ExecTransport struct {
	Command string
	Args    []string

	// Env is appended to the current process environment.
	Env []string

	// Timeout bounds one attempt. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Send implements Transport.
func (t *ExecTransport) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, &TransportError{Op: "encode request", Err: err}
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Command, t.Args...)
	cmd.Env = append(os.Environ(), "OFFSYNC_WIRE_VERSION="+ir.WireVersion)
	cmd.Env = append(cmd.Env, t.Env...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		var resp Response
		if err := json.Unmarshal(out, &resp); err == nil && resp.Status != "" {
			return resp, nil
		}
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Response{}, &TransportError{Op: "exec", Err: ctx.Err()}
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			runErr = fmt.Errorf("%w: %s", runErr, msg)
		}
		return Response{}, &TransportError{Op: "exec", Retryable: true, Err: runErr}
	}

	return Response{}, &TransportError{
		Op:        "decode response",
		Retryable: true,
		Err:       fmt.Errorf("no JSON response on stdout (got %q)", truncate(stdout.String(), 200)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
