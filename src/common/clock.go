package common

import (
	"sync"
	"time"
)

// Clock is the source of time for timestamps, time-window checks and flow
// sleeps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements the Clock interface.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a Clock that only moves when told to. Used in tests.
type ManualClock struct {
	sync.Mutex
	now time.Time
}

// NewManualClock ...
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now implements the Clock interface.
func (c *ManualClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.Lock()
	defer c.Unlock()
	c.now = t.UTC()
}
