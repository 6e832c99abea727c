package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock times pipeline runs and stamps published detections.
var clock = clockwork.NewRealClock()

// SetClock replaces the run clock; nil restores wall time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// Now is the current time on the run clock.
func Now() time.Time {
	return clock.Now()
}

// Since is the run-clock time elapsed since t.
func Since(t time.Time) time.Duration {
	return clock.Since(t)
}
