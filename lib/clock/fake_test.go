// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now: got %v, want %v", got, start)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since after Advance: got %v, want 5s", got)
	}
}

func TestFakeClockSleepAdvancesTime(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	// A poll loop that sleeps 10ms per iteration against a 100ms
	// deadline should observe expiry after 10 iterations.
	deadline := c.Now().Add(100 * time.Millisecond)
	iterations := 0
	for c.Now().Before(deadline) {
		c.Sleep(10 * time.Millisecond)
		iterations++
	}
	if iterations != 10 {
		t.Errorf("iterations to deadline: got %d, want 10", iterations)
	}
}

func TestFakeClockNegativeAdvancePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("Advance(-1) did not panic")
		}
	}()
	Fake(time.Unix(0, 0)).Advance(-time.Second)
}
