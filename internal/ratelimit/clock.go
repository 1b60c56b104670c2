package ratelimit

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the process wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
