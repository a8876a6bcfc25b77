// Package system provides the wall clock used to stamp outcomes.
package system

import "time"

// Clock implements crawler.Clock with UTC wall time.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. Outcome durations are computed from two
// calls, so the monotonic reading is kept.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
