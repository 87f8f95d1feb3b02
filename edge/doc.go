// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package edge implements the edge gateway: the websocket server
// devices attach to.
//
// A device socket moves through connecting, unauthenticated,
// authenticated and closed. It must authenticate (session token, or
// username and password) within AuthTimeout or be closed; a socket
// that has performed a valid share operation is exempt, since share
// guests have no account. Authentication is linear: the device gets
// its auth-result, then its presence is announced to the central
// relay, then any presence updates that arrived meanwhile are
// delivered.
//
// Every device socket is pinged every PingInterval and closed if no
// pong arrives within PongTimeout. Closing runs the normal cleanup:
// the device leaves the local roster and a disconnection is reported
// upstream, unless a newer socket for the same device has already
// replaced it.
//
// The gateway holds one websocket to the central relay (see Run).
// Messages for the relay pass through an outbox that drains one
// envelope at a time and keeps an envelope at its front until it has
// been written, so a flapping link loses nothing already queued.
// Failing the relay's authentication gate is fatal: Run returns
// ErrRelayAuth.
//
// Share sessions (package share) live on the edge that created them;
// their signals never cross the relay.
package edge
