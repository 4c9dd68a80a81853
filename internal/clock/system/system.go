// Package system provides the wall clock used for record timestamps.
package system

import "time"

// Clock returns UTC wall time truncated to microseconds, the resolution
// Postgres keeps for timestamptz. Timestamps read back from the store then
// compare equal to the ones that were written.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Fixed always reports the same instant. Tests advance it by hand.
type Fixed struct {
	T time.Time
}

// Now returns f.T.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
