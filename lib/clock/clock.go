// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that peerdrop components
// use. Every method mirrors its time package counterpart.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer's C
	// field is nil.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers ticks on C at a fixed interval until stopped.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. No further ticks are delivered.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval and restarts the ticker.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a pending one-shot event.
type Timer struct {
	// C receives the fire time. Nil for timers created by AfterFunc.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop prevents the timer from firing. Reports whether the call
// stopped a pending timer.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the timer to fire after d. Reports whether the
// timer was pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
