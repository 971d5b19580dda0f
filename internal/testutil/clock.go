package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock: a Tuesday, 10:00 UTC.
var Epoch = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

// FakeClock is a settable wall clock for tests.
//
// Pass clock.Now wherever a func() time.Time is injected (engine.WithNow,
// venue.WithClock). Time only moves when Advance or Set is called.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading start. A zero start means Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
