package actor

import "time"

// Timer is a scheduled wake-up that can be cancelled before it fires.
type Timer interface {
	Stop() bool
}

// Clock schedules one-shot wake-ups and reports the current time. Actors
// take a Clock so heartbeat, retry, and long-poll timing can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }
