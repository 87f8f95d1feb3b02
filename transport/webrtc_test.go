// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/lib/testutil"
)

// TestWebRTCLoopback negotiates two pion links over loopback host
// candidates with trickled ICE and round-trips a message each way.
func TestWebRTCLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates a real ICE session")
	}
	logger := slog.New(slog.DiscardHandler)
	factory := NewWebRTC(nil, logger)

	_, _, recA, recB := connectPair(t, factory, factory, "data-0")

	recA.waitState(t, StateConnected, 30*time.Second)
	local := openChannels(t, recA, 1, 30*time.Second)["data-0"]
	remote := openChannels(t, recB, 1, 30*time.Second)["data-0"]
	if local == nil || remote == nil {
		t.Fatal("data-0 did not open on both sides")
	}

	if err := local.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, recB.messages, 10*time.Second, "binary message at beta")
	if got.message.Text || len(got.message.Data) != 3 || got.message.Data[2] != 3 {
		t.Fatalf("beta received %+v", got.message)
	}

	if err := remote.SendText("pong"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	got = testutil.RequireReceive(t, recA.messages, 10*time.Second, "text message at alpha")
	if !got.message.Text || string(got.message.Data) != "pong" {
		t.Fatalf("alpha received %+v", got.message)
	}
}
