package engine

import "time"

// WallClock abstracts physical time so tests can inject latency and control
// deadline outcomes deterministically. Production code uses SystemClock.
type WallClock interface {
	Now() time.Time
	// After behaves like time.After. The runtime uses it to pace logical
	// time against the wall clock when fast mode is off; the wait is always
	// raced against new-event arrival, so implementations need not be
	// interruptible themselves.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// After waits for d on the real clock.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
