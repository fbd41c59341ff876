package remote

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// BaseDelay is the delay before the first retry, before jitter.
	BaseDelay time.Duration

	// MaxDelay caps every delay, jitter included.
	MaxDelay time.Duration

	// JitterFactor scales the random extra delay, in [0, 1].
	JitterFactor float64
}

// DefaultRetryPolicy returns 3 retries starting at 1s, capped at 10s, with
// 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.1,
	}
}

// Validate rejects negative values and jitter outside [0, 1].
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.New("max_retries must be >= 0")
	case p.BaseDelay < 0:
		return errors.New("base_delay must be >= 0")
	case p.MaxDelay < 0:
		return errors.New("max_delay must be >= 0")
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return errors.New("jitter_factor must be within [0, 1]")
	}
	return nil
}

// Delay returns the wait before retry number attempt+1:
//
//	d = BaseDelay * 2^attempt
//	min(d + d*JitterFactor*r, MaxDelay)
//
// r is a random sample in [0, 1). A zero MaxDelay means uncapped.
func (p RetryPolicy) Delay(attempt int, r float64) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	d := base + base*p.JitterFactor*r
	if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Round(d))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
