// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the device side of the relay tier: it keeps one
// websocket to an edge gateway, authenticates, reconnects with a
// linear backoff, and carries peer negotiation for the peer manager.
//
// A Client implements peer.Signaler. A remote ID names either a
// sibling device, reached through broadcast, or a share session,
// written "share:<token>" and reached through share-signal. Either
// way the negotiation message travels as the payload
// {"signal": {...}} and comes back out through Events.Signal under
// the same remote ID.
//
// Requests that expect an answer (devices, share operations) carry a
// requestId; the reply is matched to its caller through a pending
// table. Requests in flight when the socket drops fail with
// ErrDisconnected.
package client
