// Package clock abstracts wall-clock time and delayed callbacks so that the
// arbitration core never touches ambient timers directly. Tests inject a fake
// clock and advance it explicitly instead of sleeping.
package clock

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

// Clock provides the current time and delayed callback scheduling.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc schedules f to run after d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the real wall-clock implementation.
type System struct{}

// NewSystem returns a Clock backed by the runtime timers.
func NewSystem() *System { return &System{} }

func (*System) Now() time.Time { return time.Now() }

func (*System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
