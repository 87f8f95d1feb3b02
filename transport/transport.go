// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed link or channel.
var ErrClosed = errors.New("transport: closed")

// State is the lifecycle state of a link.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SignalKind distinguishes negotiation messages.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal is one negotiation message, relayed verbatim between devices.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Message is one message received on a channel.
type Message struct {
	Data []byte
	Text bool
}

// Channel is one ordered, reliable sub-stream of a link.
type Channel interface {
	Label() string

	// Open reports whether the channel can currently send.
	Open() bool

	// Send queues a binary message.
	Send(data []byte) error

	// SendText queues a text message.
	SendText(text string) error

	// BufferedAmount is the number of bytes queued but not yet
	// handed to the network.
	BufferedAmount() uint64

	Close() error
}

// Handler receives a link's events. Nil fields are ignored.
type Handler struct {
	// Signal delivers a local negotiation message for the remote
	// side.
	Signal func(Signal)

	// ChannelOpen reports a channel, created locally or by the remote
	// side, becoming ready to send.
	ChannelOpen func(Channel)

	// ChannelClosed reports a channel closing.
	ChannelClosed func(Channel)

	// Message delivers an inbound message. Messages on one channel
	// arrive in order.
	Message func(Channel, Message)

	// StateChange reports link state transitions.
	StateChange func(State)
}

// Link is a negotiated connection to one remote device.
type Link interface {
	// CreateChannel asks for a new ordered channel. It is announced
	// through Handler.ChannelOpen once usable.
	CreateChannel(label string) error

	// Offer starts negotiation as the initiator. The offer is
	// emitted through Handler.Signal.
	Offer(ctx context.Context) error

	// HandleSignal consumes a negotiation message from the remote
	// side. An offer is answered through Handler.Signal.
	HandleSignal(ctx context.Context, signal Signal) error

	// Close tears the link down. Further events are not delivered.
	Close() error
}

// Factory creates links.
type Factory interface {
	NewLink(remoteID string, handler Handler) (Link, error)
}
