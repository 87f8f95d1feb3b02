// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/testutil"
	"github.com/peerdrop/peerdrop/peer"
	"github.com/peerdrop/peerdrop/transfer"
	"github.com/peerdrop/peerdrop/transport"
)

type testNode struct {
	*Node
	sink     *transfer.MemorySink
	ready    chan string
	offers   chan transfer.Offer
	received chan transfer.Result
	share    chan signal.Message
}

// startNode runs a device on network until the test ends. An empty
// token makes it anonymous.
func startNode(t *testing.T, network *transport.MemoryNetwork, url, deviceID, token string) *testNode {
	t.Helper()
	n := &testNode{
		sink:     transfer.NewMemorySink(),
		ready:    make(chan string, 8),
		offers:   make(chan transfer.Offer, 8),
		received: make(chan transfer.Result, 8),
		share:    make(chan signal.Message, 8),
	}
	localID := deviceID
	if localID == "" {
		localID = testutil.UniqueID("anonymous")
	}
	node, err := NewNode(NodeConfig{
		Client: Config{
			URL:      url,
			DeviceID: deviceID,
			Token:    token,
			Backoff:  backoff.Linear{Base: 10 * time.Millisecond},
			Logger:   discard,
		},
		Peers:    peer.Config{LocalID: localID},
		Transfer: transfer.Config{Sink: n.sink, ChunkSize: 4096},
		Factory:  network.Endpoint(localID),
	}, NodeEvents{
		Share:     func(m signal.Message) { n.share <- m },
		PeerReady: func(remoteID string) { n.ready <- remoteID },
		Offer:     func(o transfer.Offer) { n.offers <- o },
		Received:  func(r transfer.Result) { n.received <- r },
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	n.Node = node

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	readyCtx, readyCancel := context.WithTimeout(ctx, waitTimeout)
	defer readyCancel()
	if err := node.Client.Ready(readyCtx); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	return n
}

func randomContent(seed uint64, size int) []byte {
	rng := rand.New(rand.NewPCG(seed, seed))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rng.IntN(16))
	}
	return data
}

// transferFile sends data from sender to receiver over their peer
// link and checks what arrives.
func transferFile(t *testing.T, sender, receiver *testNode, remoteID, name string, data []byte) {
	t.Helper()
	go func() {
		select {
		case offer := <-receiver.offers:
			if err := receiver.Transfers.Accept(offer.FileID); err != nil {
				t.Errorf("Accept: %v", err)
			}
		case <-time.After(waitTimeout):
			t.Errorf("no offer reached the receiver")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if _, err := sender.Transfers.Send(ctx, remoteID, transfer.File{
		Name:    name,
		Size:    int64(len(data)),
		Content: bytes.NewReader(data),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	result := testutil.RequireReceive(t, receiver.received, waitTimeout, "transfer result")
	if result.Err != nil {
		t.Fatalf("receive failed: %v", result.Err)
	}
	if got, _ := receiver.sink.File(name); !bytes.Equal(got, data) {
		t.Fatalf("received %d bytes, want %d identical bytes", len(got), len(data))
	}
}

func TestSiblingTransferThroughRelay(t *testing.T) {
	s := startStack(t)
	network := transport.NewMemoryNetwork()
	token := func(deviceID string) string {
		session, err := s.accounts.CreateSession(context.Background(), "acct", deviceID, deviceID)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		return session.Token
	}
	laptop := startNode(t, network, s.url, "laptop", token("laptop"))
	phone := startNode(t, network, s.url, "phone", token("phone"))

	if err := laptop.Peers.Connect(context.Background(), "phone"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if remote := testutil.RequireReceive(t, laptop.ready, waitTimeout, "laptop link ready"); remote != "phone" {
		t.Fatalf("laptop ready for %q", remote)
	}
	if remote := testutil.RequireReceive(t, phone.ready, waitTimeout, "phone link ready"); remote != "laptop" {
		t.Fatalf("phone ready for %q", remote)
	}

	transferFile(t, laptop, phone, "phone", "photo.raw", randomContent(1, 50_000))
}

func TestShareTransferBetweenAnonymousDevices(t *testing.T) {
	s := startStack(t)
	network := transport.NewMemoryNetwork()
	sharer := startNode(t, network, s.url, "", "")
	guest := startNode(t, network, s.url, "", "")
	ctx := context.Background()

	data := randomContent(2, 20_000)
	token, err := sharer.Client.ShareCreate(ctx, "9876", []signal.FileMeta{{Name: "slides.pdf", Size: int64(len(data))}})
	if err != nil {
		t.Fatalf("ShareCreate: %v", err)
	}
	if _, err := guest.Client.ShareJoin(ctx, token, "9876"); err != nil {
		t.Fatalf("ShareJoin: %v", err)
	}
	testutil.RequireReceive(t, sharer.share, waitTimeout, "guest connected")

	remote := SharePrefix + token
	if err := guest.Peers.Connect(ctx, remote); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	testutil.RequireReceive(t, guest.ready, waitTimeout, "guest link ready")
	testutil.RequireReceive(t, sharer.ready, waitTimeout, "sharer link ready")

	transferFile(t, sharer, guest, remote, "slides.pdf", data)

	if err := guest.Client.ShareClose(ctx, token); err != nil {
		t.Fatalf("ShareClose: %v", err)
	}
	if _, ok := testutil.RequireReceive(t, sharer.share, waitTimeout, "share closed").(*signal.ShareClose); !ok {
		t.Fatal("sharer not told about the close")
	}
}
