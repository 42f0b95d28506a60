// Package clock provides the master time source every scheduling decision reads from.
package clock

import (
	"sync"
	"time"
)

// MasterClock is the sole source of "now" for playout, horizon and fan-out.
type MasterClock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() System {
	return System{}
}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed for tests that replay a boundary.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// UnixMilli converts a clock reading to epoch milliseconds.
func UnixMilli(c MasterClock) int64 {
	return c.Now().UnixMilli()
}

// FromMilli converts epoch milliseconds to a UTC time.
func FromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
