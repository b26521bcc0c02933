package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant returned by a new Clock.
var DefaultEpoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Clock is a deterministic wall clock for tests.
//
// Each call to Now returns the previous instant plus Step, so consecutive
// inserts get strictly increasing CreatedAt values and canonical ordering is
// reproducible. Set Step to zero to force CreatedAt ties and exercise the
// ID tie-break.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	ticks int64
}

// NewClock creates a clock starting at DefaultEpoch that advances one second
// per call.
func NewClock() *Clock {
	return NewClockAt(DefaultEpoch, time.Second)
}

// NewClockAt creates a clock starting at base that advances by step per call.
func NewClockAt(base time.Time, step time.Duration) *Clock {
	return &Clock{base: base.UTC(), step: step}
}

// Now returns the current instant and advances the clock.
// The first call returns base.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *Clock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock so the next Now returns base again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
