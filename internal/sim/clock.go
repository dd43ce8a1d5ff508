package sim

import (
	"sync"
	"time"
)

// Clock is the private "current time" of one simulation unit. Each unit
// owns its own instance, so concurrently running units advance through
// history independently.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the unit's current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Moving backwards is ignored so a
// misordered bar cannot rewind time.
func (c *Clock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
