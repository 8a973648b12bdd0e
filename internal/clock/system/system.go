// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements review.Clock on top of time.Now. Readings are UTC and
// truncated to the millisecond, the precision the stores persist.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at millisecond precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
