// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package backoff computes reconnect delays for the long-lived
// websocket links (edge to relay, device to edge).
//
// The delay grows linearly with the number of consecutive
// disconnects: Base + count*Growth. It is uncapped unless Max is set.
package backoff

import "time"

// Linear is a reconnect schedule. The zero value retries immediately.
type Linear struct {
	Base   time.Duration
	Growth time.Duration

	// Max caps the delay. Zero leaves it uncapped.
	Max time.Duration
}

// Delay returns the wait before the reconnect that follows the
// disconnects'th consecutive disconnect. Counts below zero are
// treated as zero.
func (l Linear) Delay(disconnects int) time.Duration {
	if disconnects < 0 {
		disconnects = 0
	}
	delay := l.Base + time.Duration(disconnects)*l.Growth
	if l.Max > 0 && delay > l.Max {
		return l.Max
	}
	return delay
}
