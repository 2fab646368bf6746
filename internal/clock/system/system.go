// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now. All times are UTC so
// stored records and feed exports sort consistently across hosts.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
