// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance or Sleep on the same clock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingEvent
	changed *sync.Cond
}

type pendingEvent struct {
	deadline time.Time
	interval time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel event.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&pendingEvent{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers a one-shot callback. A non-positive d runs f
// before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	event := &pendingEvent{deadline: c.now.Add(d), callback: f}
	c.addLocked(event)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if event.stopped || event.fired {
				return false
			}
			event.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !event.stopped && !event.fired
			event.deadline = c.now.Add(d)
			event.stopped = false
			event.fired = false
			if !active {
				c.addLocked(event)
			}
			return active
		},
	}
}

// NewTicker registers a repeating channel event.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	event := &pendingEvent{deadline: c.now.Add(d), interval: d, channel: channel}
	c.addLocked(event)
	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.interval = d
			event.deadline = c.now.Add(d)
			if event.stopped {
				event.stopped = false
				c.addLocked(event)
			}
		},
	}
}

// Sleep blocks until the clock has been advanced past d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves time forward by d and fires every event whose
// deadline is reached, earliest first. Tickers spanning several
// intervals fire once per interval; ticks that find the channel full
// are dropped like time.Ticker's.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, event := range due {
			if event.callback != nil {
				event.callback()
				continue
			}
			select {
			case event.channel <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) takeDue(target time.Time) []*pendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*pendingEvent
	for _, event := range c.pending {
		switch {
		case event.stopped:
		case event.deadline.After(target):
			keep = append(keep, event)
		default:
			due = append(due, event)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, event := range due {
		if event.interval > 0 {
			event.deadline = event.deadline.Add(event.interval)
			keep = append(keep, event)
		} else {
			event.fired = true
		}
	}
	c.pending = keep
	return due
}

// WaitForTimers blocks until at least n events are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of events that have neither fired
// nor been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) addLocked(event *pendingEvent) {
	for _, existing := range c.pending {
		if existing == event {
			c.changed.Broadcast()
			return
		}
	}
	c.pending = append(c.pending, event)
	c.changed.Broadcast()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, event := range c.pending {
		if !event.stopped {
			count++
		}
	}
	return count
}
