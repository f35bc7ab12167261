package oplog

import (
	"sync/atomic"
	"time"
)

// Clock issues strictly increasing millisecond timestamps for log entries.
//
// Next returns max(now, last+1), so two appends in the same millisecond still
// get distinct, ordered timestamps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewClock creates a clock reading time from now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns the next timestamp and advances the clock.
func (c *Clock) Next() int64 {
	for {
		last := c.last.Load()
		ts := c.now().UnixMilli()
		if ts <= last {
			ts = last + 1
		}
		if c.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// Observe raises the clock to at least ts. Used when reopening a persisted
// log so new entries sort after existing ones.
func (c *Clock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}

// Current returns the last issued timestamp without advancing.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
