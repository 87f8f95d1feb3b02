// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/schema/frame"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/testutil"
	"github.com/peerdrop/peerdrop/peer"
)

const receiverID = "phone"

type sendHarness struct {
	engine *Engine
	peers  *fakePeers
	clock  *clock.FakeClock
	done   chan error
}

// startSend begins sending data with chunk-by-chunk gating and
// returns once the offer is on the wire.
func startSend(t *testing.T, ctx context.Context, data []byte) (*sendHarness, *signal.FileOffer) {
	t.Helper()
	h := &sendHarness{
		peers: newFakePeers(),
		clock: clock.Fake(time.Unix(1_700_000_000, 0)),
		done:  make(chan error, 1),
	}
	h.peers.gate = make(chan struct{})
	h.engine = NewEngine(Config{
		ChunkSize: 100,
		Clock:     h.clock,
		Logger:    slog.New(slog.DiscardHandler),
	}, h.peers, Events{})

	go func() {
		_, err := h.engine.Send(ctx, receiverID, File{
			Name:    "report.pdf",
			Mime:    "application/pdf",
			Size:    int64(len(data)),
			Content: bytes.NewReader(data),
		})
		h.done <- err
	}()

	offer, ok := h.peers.nextControl(t).(*signal.FileOffer)
	if !ok {
		t.Fatalf("first control message is %T, want *signal.FileOffer", offer)
	}
	if offer.Name != "report.pdf" || offer.Size != int64(len(data)) || offer.Strategy != "small" {
		t.Fatalf("offer = %+v", offer)
	}
	return h, offer
}

func (h *sendHarness) accept(t *testing.T, fileID string) {
	t.Helper()
	h.engine.HandleMessage(receiverID, controlMessage(t, &signal.FileAccept{FileID: fileID}))
	if _, ok := h.peers.nextFrame(t).(*frame.Metadata); !ok {
		t.Fatal("first frame after accept is not file-metadata")
	}
}

// awaitParked waits until the send loop is blocked handing over its
// next chunk.
func (h *sendHarness) awaitParked(t *testing.T) {
	t.Helper()
	testutil.RequireReceive(t, h.peers.parked, waitTimeout, "send loop parked on a chunk")
}

// releaseChunk waits for the next chunk, lets it through and returns
// it.
func (h *sendHarness) releaseChunk(t *testing.T) *frame.Chunk {
	t.Helper()
	h.awaitParked(t)
	return h.releaseParked(t)
}

// releaseParked lets an already parked chunk through.
func (h *sendHarness) releaseParked(t *testing.T) *frame.Chunk {
	t.Helper()
	testutil.RequireSend(t, h.peers.gate, struct{}{}, waitTimeout, "releasing a chunk")
	chunk, ok := h.peers.nextFrame(t).(*frame.Chunk)
	if !ok {
		t.Fatal("expected a chunk frame")
	}
	return chunk
}

func TestSenderHonoursPauseResumeAndCancel(t *testing.T) {
	h, offer := startSend(t, context.Background(), randomBytes(6, 1000))
	h.accept(t, offer.FileID)

	for want := range 2 {
		if chunk := h.releaseChunk(t); chunk.Number != want {
			t.Fatalf("chunk number = %d, want %d", chunk.Number, want)
		}
	}

	// The loop is parked sending chunk 2; the pause applies after it.
	h.awaitParked(t)
	h.engine.HandleMessage(receiverID, frameMessage(t, &frame.Pause{FileID: offer.FileID}))
	h.releaseParked(t)
	h.clock.WaitForTimers(1)
	if transfer, _ := h.engine.Lookup(offer.FileID); transfer.State != StatePaused {
		t.Fatalf("state = %s, want paused", transfer.State)
	}
	h.clock.Advance(250 * time.Millisecond)
	h.clock.WaitForTimers(1)

	h.engine.HandleMessage(receiverID, frameMessage(t, &frame.Resume{FileID: offer.FileID}))
	h.clock.Advance(250 * time.Millisecond)
	if chunk := h.releaseChunk(t); chunk.Number != 3 {
		t.Fatalf("chunk after resume = %d, want 3", chunk.Number)
	}

	h.awaitParked(t)
	h.engine.HandleMessage(receiverID, frameMessage(t, &frame.Pause{FileID: offer.FileID}))
	h.releaseParked(t)
	h.clock.WaitForTimers(1)
	h.engine.HandleMessage(receiverID, frameMessage(t, &frame.Cancel{FileID: offer.FileID}))
	h.clock.Advance(250 * time.Millisecond)

	err := testutil.RequireReceive(t, h.done, waitTimeout, "send result")
	if !errors.Is(err, ErrCancelled) || err.Error() != "cancelled" {
		t.Fatalf("Send = %v, want cancelled", err)
	}
	// A receiver-initiated cancel is not echoed back.
	testutil.RequireNoReceive(t, h.peers.sent, 50*time.Millisecond, "cancel-upload after receiver cancel")
	if len(h.engine.Transfers()) != 0 {
		t.Fatalf("transfers = %+v, want none", h.engine.Transfers())
	}
}

func TestSenderAbandonSendsCancelUpload(t *testing.T) {
	h, offer := startSend(t, context.Background(), randomBytes(7, 1000))
	h.accept(t, offer.FileID)
	h.releaseChunk(t)

	h.awaitParked(t)
	if err := h.engine.Pause(offer.FileID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.releaseParked(t)
	h.clock.WaitForTimers(1)

	if err := h.engine.Cancel(offer.FileID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	h.clock.Advance(250 * time.Millisecond)

	if err := testutil.RequireReceive(t, h.done, waitTimeout, "send result"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Send = %v, want ErrCancelled", err)
	}
	if cancel, ok := h.peers.nextFrame(t).(*frame.CancelUpload); !ok || cancel.FileID != offer.FileID {
		t.Fatalf("expected cancel-upload, got %#v", cancel)
	}
}

func TestSenderRejected(t *testing.T) {
	h, offer := startSend(t, context.Background(), []byte("hello"))
	h.engine.HandleMessage(receiverID, controlMessage(t, &signal.FileReject{FileID: offer.FileID}))

	err := testutil.RequireReceive(t, h.done, waitTimeout, "send result")
	if !errors.Is(err, ErrRejected) || err.Error() != "rejected by peer" {
		t.Fatalf("Send = %v, want rejected by peer", err)
	}
}

func TestSenderContextCancelledDuringHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, offer := startSend(t, ctx, []byte("hello"))
	cancel()

	if err := testutil.RequireReceive(t, h.done, waitTimeout, "send result"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send = %v, want context.Canceled", err)
	}
	if cancelFrame, ok := h.peers.nextFrame(t).(*frame.CancelUpload); !ok || cancelFrame.FileID != offer.FileID {
		t.Fatalf("expected cancel-upload, got %#v", cancelFrame)
	}
}

func TestSenderAbortedByPeerClose(t *testing.T) {
	h, _ := startSend(t, context.Background(), []byte("hello"))
	h.engine.PeerClosed(receiverID, peer.ErrLinkLost)

	if err := testutil.RequireReceive(t, h.done, waitTimeout, "send result"); !errors.Is(err, peer.ErrLinkLost) {
		t.Fatalf("Send = %v, want ErrLinkLost", err)
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		length, size int
		want         []int
	}{
		{0, 4, []int{0}},
		{3, 4, []int{3}},
		{8, 4, []int{4, 4}},
		{9, 4, []int{4, 4, 1}},
	}
	for _, tc := range cases {
		pieces := split(make([]byte, tc.length), tc.size)
		if len(pieces) != len(tc.want) {
			t.Fatalf("split(%d, %d) gave %d pieces, want %d", tc.length, tc.size, len(pieces), len(tc.want))
		}
		for i, piece := range pieces {
			if len(piece) != tc.want[i] {
				t.Fatalf("split(%d, %d) piece %d has %d bytes, want %d", tc.length, tc.size, i, len(piece), tc.want[i])
			}
		}
	}
}
