// Package timeutil provides the host clock abstraction used to stamp
// receive times, plus conversions between time.Time and the float64
// seconds the device time translator works in.
package timeutil

import (
	"math"
	"sync"
	"time"
)

// Clock provides an abstraction over the host clock for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// HostSeconds converts t to Unix seconds. Whole seconds and nanoseconds are
// combined separately to keep as much precision as a float64 allows.
func HostSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromHostSeconds converts Unix seconds back into a time.Time, rounded to
// the nearest nanosecond.
func FromHostSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	nanos := math.Round(frac * 1e9)
	return time.Unix(int64(whole), int64(nanos))
}
