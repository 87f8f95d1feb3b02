// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/lib/testutil"
)

type received struct {
	channel Channel
	message Message
}

// recorder captures a link's callbacks on buffered channels.
type recorder struct {
	signals  chan Signal
	opened   chan Channel
	closed   chan Channel
	messages chan received
	states   chan State
}

func newRecorder() *recorder {
	return &recorder{
		signals:  make(chan Signal, 64),
		opened:   make(chan Channel, 64),
		closed:   make(chan Channel, 64),
		messages: make(chan received, 1024),
		states:   make(chan State, 64),
	}
}

func (r *recorder) handler(forward func(Signal)) Handler {
	return Handler{
		Signal:        forward,
		ChannelOpen:   func(c Channel) { r.opened <- c },
		ChannelClosed: func(c Channel) { r.closed <- c },
		Message:       func(c Channel, m Message) { r.messages <- received{c, m} },
		StateChange:   func(s State) { r.states <- s },
	}
}

// waitState reads states until want is seen.
func (r *recorder) waitState(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case state := <-r.states:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// connectPair creates two links from factories a and b, opens labels on
// a, and negotiates with a as the offerer. Signals are forwarded
// between the two directly.
func connectPair(t *testing.T, a, b Factory, labels ...string) (Link, Link, *recorder, *recorder) {
	t.Helper()
	ctx := context.Background()

	recA, recB := newRecorder(), newRecorder()
	var linkA, linkB Link
	ready := make(chan struct{})

	forwardTo := func(target *Link) func(Signal) {
		return func(signal Signal) {
			<-ready
			if err := (*target).HandleSignal(ctx, signal); err != nil {
				t.Errorf("HandleSignal(%s): %v", signal.Kind, err)
			}
		}
	}

	var err error
	linkA, err = a.NewLink("beta", recA.handler(forwardTo(&linkB)))
	if err != nil {
		t.Fatalf("NewLink alpha: %v", err)
	}
	linkB, err = b.NewLink("alpha", recB.handler(forwardTo(&linkA)))
	if err != nil {
		t.Fatalf("NewLink beta: %v", err)
	}
	close(ready)
	t.Cleanup(func() {
		linkA.Close()
		linkB.Close()
	})

	for _, label := range labels {
		if err := linkA.CreateChannel(label); err != nil {
			t.Fatalf("CreateChannel(%s): %v", label, err)
		}
	}
	if err := linkA.Offer(ctx); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	return linkA, linkB, recA, recB
}

// openChannels collects n opened channels keyed by label.
func openChannels(t *testing.T, r *recorder, n int, timeout time.Duration) map[string]Channel {
	t.Helper()
	channels := make(map[string]Channel, n)
	for len(channels) < n {
		channel := testutil.RequireReceive(t, r.opened, timeout, "waiting for channel open")
		channels[channel.Label()] = channel
	}
	return channels
}
