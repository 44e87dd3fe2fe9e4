// Package system provides the real clock implementation.
package system

import "time"

// Clock implements oeis.Clock using the system time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
