// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/lib/schema/frame"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/testutil"
	"github.com/peerdrop/peerdrop/peer"
	"github.com/peerdrop/peerdrop/transport"
)

const waitTimeout = 5 * time.Second

// fakePeers records everything the engine sends. When gate is set,
// every SendChunk announces itself on parked and then waits for a
// token from gate.
type fakePeers struct {
	sent   chan transport.Message
	gate   chan struct{}
	parked chan struct{}
}

func newFakePeers() *fakePeers {
	return &fakePeers{
		sent:   make(chan transport.Message, 4096),
		parked: make(chan struct{}, 64),
	}
}

func (f *fakePeers) Send(_ string, message transport.Message) error {
	f.sent <- message
	return nil
}

func (f *fakePeers) Next(remoteID string) (peer.ChannelHandle, error) {
	return peer.ChannelHandle{DeviceID: remoteID}, nil
}

func (f *fakePeers) SendChunk(ctx context.Context, _ peer.ChannelHandle, data []byte) error {
	if f.gate != nil {
		f.parked <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.sent <- transport.Message{Data: data}
	return nil
}

// nextFrame reads sent messages until a binary frame arrives.
func (f *fakePeers) nextFrame(t *testing.T) frame.Frame {
	t.Helper()
	for {
		message := testutil.RequireReceive(t, f.sent, waitTimeout, "waiting for a frame")
		if message.Text {
			continue
		}
		decoded, err := frame.Decode(message.Data)
		if err != nil {
			t.Fatalf("engine sent an undecodable frame: %v", err)
		}
		return decoded
	}
}

// nextControl reads sent messages until a text message arrives.
func (f *fakePeers) nextControl(t *testing.T) signal.Message {
	t.Helper()
	for {
		message := testutil.RequireReceive(t, f.sent, waitTimeout, "waiting for a control message")
		if !message.Text {
			continue
		}
		decoded, _, err := signal.Decode(message.Data)
		if err != nil {
			t.Fatalf("engine sent an undecodable control message: %v", err)
		}
		return decoded
	}
}

func frameMessage(t *testing.T, f frame.Frame) transport.Message {
	t.Helper()
	data, err := frame.Encode(f)
	if err != nil {
		t.Fatalf("Encode(%s): %v", f.Kind(), err)
	}
	return transport.Message{Data: data}
}

func controlMessage(t *testing.T, message signal.Message) transport.Message {
	t.Helper()
	data, err := signal.Encode(message, "req-1")
	if err != nil {
		t.Fatalf("Encode(%s): %v", message.Type(), err)
	}
	return transport.Message{Data: data, Text: true}
}

// randomBytes returns n deterministic, incompressible bytes.
func randomBytes(seed uint64, n int) []byte {
	source := rand.New(rand.NewPCG(seed, seed+1))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(source.UintN(256))
	}
	return data
}
