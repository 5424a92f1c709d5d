package pipeline

import "time"

// Clock is the time source for debounce gating and cycle latency.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
