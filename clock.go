package quarry

import "time"

// Clock is the time source for rate-limiter windows and breaker timers.
// Injectable so window and timeout behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock Clock used by default.
var SystemClock Clock = systemClock{}
