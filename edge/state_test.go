// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"log/slog"
	"slices"
	"sync"
	"testing"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (r *recordingSender) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, string(data))
	return nil
}

func (r *recordingSender) CloseWith(int, string) { r.Close() }

func (r *recordingSender) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

var discard = slog.New(slog.DiscardHandler)

func TestDeliveriesDeferredUntilActivated(t *testing.T) {
	state := NewRelayState()
	out := &recordingSender{}
	c := state.add(out, discard)
	state.register(c, "acct", "laptop", "Laptop")

	if n := state.deliverAccount("acct", "phone", []byte("connection:phone")); n != 1 {
		t.Fatalf("deliverAccount = %d, want 1 deferred delivery", n)
	}
	if !state.deliverDevice("acct", "laptop", []byte("broadcast")) {
		t.Fatal("delivery to an authenticating device refused")
	}
	if got := out.messages(); len(got) != 0 {
		t.Fatalf("sent before activation: %q", got)
	}

	out.Send([]byte("auth-result"))
	state.activate(c)
	want := []string{"auth-result", "connection:phone", "broadcast"}
	if got := out.messages(); !slices.Equal(got, want) {
		t.Fatalf("sent %q, want %q", got, want)
	}
}

func TestSupersededConnectionKeepsNewRosterEntry(t *testing.T) {
	state := NewRelayState()
	oldOut, newOut := &recordingSender{}, &recordingSender{}
	old := state.add(oldOut, discard)
	state.register(old, "acct", "laptop", "Laptop")
	state.activate(old)

	replacement := state.add(newOut, discard)
	if superseded := state.register(replacement, "acct", "laptop", "Laptop"); superseded != old {
		t.Fatalf("register returned %v, want the old connection", superseded)
	}
	state.activate(replacement)

	if _, rostered := state.remove(old); rostered {
		t.Fatal("removing the superseded connection purged the device")
	}
	if devices := state.Devices(); len(devices) != 1 || devices[0].DeviceID != "laptop" {
		t.Fatalf("Devices = %+v", devices)
	}
	if !state.deliverDevice("acct", "laptop", []byte("hello")) {
		t.Fatal("delivery to the replacement failed")
	}
	if got := newOut.messages(); len(got) != 1 {
		t.Fatalf("replacement received %q", got)
	}

	device, rostered := state.remove(replacement)
	if !rostered || device.DeviceID != "laptop" || device.AccountID != "acct" {
		t.Fatalf("remove = %+v, %v", device, rostered)
	}
	if _, rostered := state.remove(replacement); rostered {
		t.Fatal("second remove reported the device again")
	}
}

func TestDeliverAccountSkipsOriginAndOtherAccounts(t *testing.T) {
	state := NewRelayState()
	outs := map[string]*recordingSender{}
	for _, device := range []struct{ account, id string }{
		{"alice", "a1"}, {"alice", "a2"}, {"bob", "b1"},
	} {
		out := &recordingSender{}
		outs[device.id] = out
		c := state.add(out, discard)
		state.register(c, device.account, device.id, device.id)
		state.activate(c)
	}

	if n := state.deliverAccount("alice", "a1", []byte("presence")); n != 1 {
		t.Fatalf("delivered to %d devices, want 1", n)
	}
	if len(outs["a1"].messages()) != 0 || len(outs["b1"].messages()) != 0 {
		t.Fatal("delivered to the origin or another account")
	}
	if state.deliverDevice("bob", "a1", []byte("x")) {
		t.Fatal("delivered across accounts")
	}
}
