// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements monitor.Clock. All timestamps the monitor persists are UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// Postgres keeps for timestamptz columns.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
