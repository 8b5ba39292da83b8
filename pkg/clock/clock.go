// Package clock abstracts time so the participation loop and retries can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use NewFake() and move time with Advance.
package clock

import "time"

// Clock provides the time operations the node core depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After waits for d to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
