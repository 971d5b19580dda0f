package engine

import "sync/atomic"

// Clock hands out fetch generations and remembers the newest one applied.
//
// A fetch takes a generation before it goes to the network. When the
// response arrives, Apply accepts it only if no later generation has been
// applied in the meantime, so a slow response never overwrites a newer one.
// Wall-clock time is never used for ordering.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	issued  atomic.Int64
	applied atomic.Int64
}

// NewClock creates a clock whose first generation is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that has already issued start generations.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.issued.Store(start)
	return c
}

// Next issues the next generation. Each call returns a unique, increasing
// value.
func (c *Clock) Next() int64 {
	return c.issued.Add(1)
}

// Current returns the last issued generation.
func (c *Clock) Current() int64 {
	return c.issued.Load()
}

// Apply marks gen as applied and reports true, or reports false when a newer
// generation was applied first.
func (c *Clock) Apply(gen int64) bool {
	for {
		applied := c.applied.Load()
		if gen < applied {
			return false
		}
		if c.applied.CompareAndSwap(applied, gen) {
			return true
		}
	}
}

// Applied returns the newest applied generation, or 0 before the first.
func (c *Clock) Applied() int64 {
	return c.applied.Load()
}
