package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a FixedClock returns.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FixedClock provides deterministic wall-clock timestamps for tests.
//
// Every call to Now returns the previous instant plus one second, starting
// at Epoch, so the same scenario always stamps identical timestamps into
// the change log and golden output.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu    sync.Mutex
	ticks int64
}

// NewFixedClock creates a clock whose first Now returns Epoch.
func NewFixedClock() *FixedClock {
	return &FixedClock{}
}

// Now returns the next instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.ticks) * time.Second)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *FixedClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to Epoch.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
