// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import "fmt"

// State is the lifecycle state of one peer link.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
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
