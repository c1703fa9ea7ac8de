package testutil

import (
	"sync"
	"time"
)

// FakeClock is a thread-safe clock that only moves when told to.
// Every Now call advances it by Step so successive writes get distinct timestamps.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewFakeClock starts at a fixed instant with a one millisecond step
func NewFakeClock() *FakeClock {
	return &FakeClock{
		now:  time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Step: time.Millisecond,
	}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.Step)
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
