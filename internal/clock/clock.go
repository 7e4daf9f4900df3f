// Package clock abstracts the time source so expiry and deadline
// comparisons are deterministic under test.
package clock

import "time"

// Clock supplies the current instant to services.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now in UTC.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
