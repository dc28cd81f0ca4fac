package events

import "time"

// Clock stamps events. Emitters take one so tests can assert on timestamps.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// orReal returns c, or a RealClock when c is nil.
func orReal(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}
