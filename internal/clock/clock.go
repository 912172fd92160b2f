// Package clock lets the block timer be driven by a fake clock in tests.
package clock

import "time"

// Clock is the only source of "now" for expiry and progress decisions.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock stays at a fixed instant until moved with Set or Advance. It is
// not safe for concurrent mutation.
type MockClock struct {
	now time.Time
}

// NewMockClock returns a MockClock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set jumps the clock to t, backwards or forwards.
func (c *MockClock) Set(t time.Time) {
	c.now = t
}
