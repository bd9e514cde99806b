// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	c.Advance(5 * time.Second)

	if got, want := c.Now(), start.Add(5*time.Second); !got.Equal(want) {
		t.Errorf("Now after Advance: got %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ch := c.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(10 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire after Advance past deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	t.Parallel()
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C:
			ticks++
		default:
		}
	}

	if ticks != 3 {
		t.Errorf("ticks across three 1s advances: got %d, want 3", ticks)
	}
}

func TestFakeTickerDropsUndrainedTicks(t *testing.T) {
	t.Parallel()
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// Cross three deadlines without draining. Capacity-1 channel keeps
	// exactly one pending tick.
	c.Advance(3 * time.Second)

	pending := 0
	for {
		select {
		case <-ticker.C:
			pending++
			continue
		default:
		}
		break
	}

	if pending != 1 {
		t.Errorf("pending ticks after undrained advance: got %d, want 1", pending)
	}
}

func TestFakeTickerStop(t *testing.T) {
	t.Parallel()
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)

	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}
