// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnlyAtDeadline(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("fire time = %v, want %v", got, epoch.Add(3*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeAfterFuncReset(t *testing.T) {
	c := Fake(epoch)
	count := 0
	timer := c.AfterFunc(time.Second, func() { count++ })
	c.Advance(time.Second)
	if count != 1 {
		t.Fatalf("count = %d after first deadline, want 1", count)
	}
	if timer.Reset(time.Second) {
		t.Fatal("Reset of a fired timer reported it as pending")
	}
	c.Advance(time.Second)
	if count != 2 {
		t.Fatalf("count = %d after reset deadline, want 2", count)
	}
}

func TestFakeTickerFiresEachInterval(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(15 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(500 * time.Millisecond)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(500 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}
