package event

import (
	"sync/atomic"
	"time"
)

// Clock supplies event timestamps.
type Clock interface {
	Now() Ticks
}

// MonotonicClock counts milliseconds since its creation using the
// monotonic reading of time.Now.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock creates a clock starting at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now implements Clock.
func (c *MonotonicClock) Now() Ticks {
	return Ticks(time.Since(c.start).Milliseconds())
}

// ManualClock is a Clock advanced by hand, for tests and replays.
type ManualClock struct {
	now atomic.Uint32
}

// Now implements Clock.
func (c *ManualClock) Now() Ticks {
	return Ticks(c.now.Load())
}

// Set moves the clock to t.
func (c *ManualClock) Set(t Ticks) {
	c.now.Store(uint32(t))
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d Ticks) Ticks {
	return Ticks(c.now.Add(uint32(d)))
}
