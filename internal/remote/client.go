package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// Client sends actions through a Transport with retry and backoff.
//
// Client keeps no per-action state between calls and is safe for concurrent
// use when its Transport is.
type Client struct {
	transport Transport
	policy    RetryPolicy
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	random    func() float64
	legacy    bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger for attempt-level messages.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the backoff wait. Tests use it to record delays
// without sleeping.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// WithRandom replaces the jitter source, which must return values in [0, 1).
func WithRandom(random func() float64) ClientOption {
	return func(c *Client) { c.random = random }
}

// WithLegacyMessageClassification treats error responses without error_kind
// as retryable when their message mentions "network" or "timeout".
func WithLegacyMessageClassification() ClientOption {
	return func(c *Client) { c.legacy = true }
}

// NewClient creates a Client over transport.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		policy:    DefaultRetryPolicy(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:     sleepContext,
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's retry policy.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// SyncAction sends a to the remote and returns its single outcome.
//
// Conflicts and terminal errors return after one attempt. Retryable errors are
// retried up to MaxRetries more times; when the budget runs out the last error
// becomes a Failure with error kind "retryable".
func (c *Client) SyncAction(ctx context.Context, a ir.Action) ir.Outcome {
	req := NewRequest(a)

	for attempt := 0; ; attempt++ {
		resp, err := c.transport.Send(ctx, req)
		outcome, retryable := c.classify(resp, err)
		outcome.Attempts = attempt + 1

		if !retryable {
			return outcome.For(a)
		}
		if attempt >= c.policy.MaxRetries {
			c.logger.Warn("retries exhausted",
				"action_id", a.ID,
				"attempts", outcome.Attempts,
				"reason", outcome.Reason)
			return outcome.For(a)
		}

		delay := c.policy.Delay(attempt, c.random())
		c.logger.Debug("retrying action",
			"action_id", a.ID,
			"attempt", attempt+1,
			"delay", delay,
			"reason", outcome.Reason)

		if err := c.sleep(ctx, delay); err != nil {
			outcome.Reason = fmt.Sprintf("%s (retry abandoned: %v)", outcome.Reason, err)
			return outcome.For(a)
		}
	}
}

// classify maps one attempt's result onto an outcome and says whether the
// attempt may be repeated.
func (c *Client) classify(resp Response, err error) (ir.Outcome, bool) {
	if err != nil {
		if IsRetryable(err) {
			return ir.Failure(err.Error(), ir.ErrorKindRetryable), true
		}
		return ir.Failure(err.Error(), ir.ErrorKindTerminal), false
	}

	switch resp.Status {
	case StatusSuccess:
		return ir.Success(resp.Operation, resp.Data), false

	case StatusConflict:
		reason := resp.Message
		if reason == "" {
			reason = "conflict"
		}
		return ir.Conflict(reason, resp.serverState()), false

	case StatusError:
		kind := resp.ErrorKind
		if kind == ir.ErrorKindNone && c.legacy {
			kind = legacyErrorKind(resp.Message)
		}
		if kind != ir.ErrorKindRetryable {
			kind = ir.ErrorKindTerminal
		}
		reason := resp.Message
		if reason == "" {
			reason = "remote error"
		}
		return ir.Failure(reason, kind), kind == ir.ErrorKindRetryable
	}

	return ir.Failure(fmt.Sprintf("unexpected response status %q", resp.Status), ir.ErrorKindTerminal), false
}
