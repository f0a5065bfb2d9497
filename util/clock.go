package util

import (
	"sync"
	"time"
)

// Clock is a source of time that can also wait
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// FakeClock is a Clock for tests.  Every call to Now advances it by Step,
// so loops that poll the clock make progress without waiting, and Sleep
// advances it by the requested duration without blocking.
type FakeClock struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration

	// OnNow, if not nil, is called with the time about to be returned by Now
	OnNow func(time.Time)
}

// NewFakeClock returns a FakeClock at an arbitrary fixed epoch
func NewFakeClock(step time.Duration) *FakeClock {
	return &FakeClock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Step: step}
}

// Now returns the current fake time, then advances it by Step
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	t := c.t
	c.t = c.t.Add(c.Step)
	hook := c.OnNow
	c.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	return t
}

// Sleep advances the clock by d
func (c *FakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.t = c.t.Add(d)
	}
}
