// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. All timer, ticker, and sleep
// operations register pending waiters that fire when the clock advances
// past their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Timers, tickers, and sleeps block until the
// clock is advanced past their deadline.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter represents a pending timer, ticker, or sleep operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool

	// fired is set after a one-shot waiter fires. Prevents
	// double-firing on overlapping Advance calls.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// NewTicker returns a Ticker whose ticks fire during Advance calls
// that cross the ticker's deadlines. Panics if d <= 0, matching
// time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until the clock is advanced past the deadline. If
// d <= 0, Sleep returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the fake time forward by d and fires every waiter
// whose deadline falls within the advanced window, in deadline order.
// Tickers fire once per elapsed interval; their ticks are dropped if
// the consumer has not drained the previous one, matching the
// capacity-1 semantics of time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		next := c.nextDeadlineLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		c.fireLocked(next)
	}

	c.current = target
	c.compactLocked()
}

// nextDeadlineLocked returns the pending waiter with the earliest
// deadline at or before target, or nil if none remain.
func (c *FakeClock) nextDeadlineLocked(target time.Time) *fakeWaiter {
	var next *fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		if waiter.deadline.After(target) {
			continue
		}
		if next == nil || waiter.deadline.Before(next.deadline) {
			next = waiter
		}
	}
	return next
}

// fireLocked delivers one fire to the waiter's channel. One-shot
// waiters are marked fired; tickers are rescheduled.
func (c *FakeClock) fireLocked(waiter *fakeWaiter) {
	select {
	case waiter.channel <- c.current:
	default:
		// Consumer has not drained the previous tick; drop.
	}
	if waiter.interval > 0 {
		waiter.deadline = waiter.deadline.Add(waiter.interval)
	} else {
		waiter.fired = true
	}
}

// compactLocked drops fired and stopped waiters, keeping the slice
// bounded for long-running tests.
func (c *FakeClock) compactLocked() {
	kept := c.waiters[:0]
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		kept = append(kept, waiter)
	}
	c.waiters = kept
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
}
