package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to.
//
// Now advances by Step on every call, so consecutive records get distinct,
// predictable timestamps. A zero Step freezes time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Epoch is the default start of a ManualClock: 2026-01-01T18:00:00Z, game
// night.
var Epoch = time.Date(2026, time.January, 1, 18, 0, 0, 0, time.UTC)

// NewManualClock creates a clock starting at Epoch that advances one second
// per reading.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch, step: time.Second}
}

// Now returns the current time and then advances by the step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return.
func (c *ManualClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetStep changes how far each Now call advances the clock.
func (c *ManualClock) SetStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}
