package core

import "time"

// Clock supplies the time sampled once per tick, so timer comparisons are
// deterministic and testable without wall-clock sleeps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the production clock.
func SystemClock() Clock { return systemClock{} }
