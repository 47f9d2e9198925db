package studio

import "time"

// Timer is the part of *time.Timer the session needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so notice expiry can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}
