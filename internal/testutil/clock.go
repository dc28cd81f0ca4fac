package testutil

import "time"

// FixedClock reports the same instant on every call. It satisfies
// events.Clock.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
