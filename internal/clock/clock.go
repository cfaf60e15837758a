// Package clock abstracts time so that everything driven by timers and
// tickers can be tested deterministically. Production code injects Real();
// tests inject NewFake() and move time forward with Advance.
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d. The returned Timer's C is nil,
	// matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C is buffered with capacity 1; ticks the
// consumer misses are dropped, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

func (t *Ticker) Stop()                 { t.stop() }
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a pending one-shot. Stop reports whether it prevented the fire.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

func (t *Timer) Stop() bool                 { return t.stop() }
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
