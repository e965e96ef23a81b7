// Package clock provides the monotonic time source and RTT/RTO estimator
// shared by the sender and receiver engines.
package clock

import "time"

// Clock exposes monotonic nanoseconds relative to an origin captured at
// construction. It never observes wall-clock adjustments.
type Clock struct {
	origin time.Time
}

// New returns a Clock whose origin is the current instant.
func New() *Clock {
	return &Clock{origin: time.Now()}
}

// Now returns monotonic nanoseconds since the clock's origin.
func (c *Clock) Now() int64 {
	return time.Since(c.origin).Nanoseconds()
}

// Elapsed returns the duration since the clock's origin, used by the
// observability formatter for the "seconds since connection start" column.
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.origin)
}
