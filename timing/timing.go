// Package timing provides the clocks that stamp causality nodes.
package timing

import (
	"sync"
	"time"
)

// TimeTeller can be used to get the current time, in seconds.
type TimeTeller interface {
	Now() float64
}

// MonotonicClock reports seconds elapsed since the clock was created. It reads
// the monotonic component of time.Time, so wall clock adjustments do not move
// it backwards.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock creates a MonotonicClock starting at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Now returns the seconds elapsed since the clock was created.
func (c *MonotonicClock) Now() float64 {
	return time.Since(c.origin).Seconds()
}

// ManualClock only moves when told to. Replays and tests use it to drive the
// engine with recorded timestamps.
type ManualClock struct {
	lock sync.Mutex
	now  float64
}

// NewManualClock creates a ManualClock at the given time.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current time of the clock.
func (c *ManualClock) Now() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t float64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d float64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if d > 0 {
		c.now += d
	}
}
