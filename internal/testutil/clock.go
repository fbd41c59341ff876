package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a ManualClock: 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a deterministic time source for tests.
//
// Each call to Now returns the current time and then advances it by Step, so
// consecutive enqueues get strictly increasing created_at values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock creates a clock at start that advances by step per read.
// A zero start means Epoch.
func NewManualClock(start time.Time, step time.Duration) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start, step: step}
}

// Now returns the current time and advances the clock by its step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
