// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import "fmt"

// State is the lifecycle state of one transfer.
type State int

const (
	StateHandshaking State = iota
	StateAccepted
	StateRejected
	StateTransferring
	StatePaused
	StateCancelled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateTransferring:
		return "transferring"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateCancelled || s == StateCompleted || s == StateFailed
}

// canMove reports whether from -> to is a legal transition. States
// only move forward, except transferring and paused which alternate.
func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StateHandshaking:
		return to == StateAccepted || to == StateRejected || to == StateCancelled || to == StateFailed
	case StateAccepted:
		return to != StateHandshaking && to != StateRejected && to != StateAccepted
	case StateTransferring:
		return to == StatePaused || to == StateCancelled || to == StateCompleted || to == StateFailed
	case StatePaused:
		return to == StateTransferring || to == StateCancelled || to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Direction says which side of a transfer this device is.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Strategy is the delivery path chosen from the file size.
type Strategy int

const (
	// Small compresses the whole file as one LZ4 block and
	// reassembles it in memory.
	Small Strategy = iota

	// Large streams through zstd and persists chunks on the
	// receiver.
	Large
)

func (s Strategy) String() string {
	if s == Large {
		return "large"
	}
	return "small"
}

func parseStrategy(name string) (Strategy, bool) {
	switch name {
	case "small":
		return Small, true
	case "large":
		return Large, true
	}
	return Small, false
}

// progressInterval is how many chunks pass between progress samples.
func (s Strategy) progressInterval() int {
	if s == Large {
		return 10
	}
	return 5
}
