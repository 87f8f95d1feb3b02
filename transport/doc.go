// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the peer-to-peer link primitive under the peer
// session manager.
//
// A [Link] is one negotiated connection to a remote device carrying
// any number of ordered, reliable [Channel]s. Links are negotiated by
// exchanging [Signal] values (offer, answer, ICE candidates) through
// the relay tier: the link emits local signals through its
// [Handler.Signal] callback and consumes remote ones with
// [Link.HandleSignal]. Once connected, traffic flows over the link
// directly.
//
// Every callback in [Handler] is invoked from a goroutine owned by the
// link, never from inside a Link method, so handlers may take locks
// that callers of Link methods also hold.
//
// [WebRTC] is the production [Factory], built on pion/webrtc data
// channels with trickle ICE. [MemoryNetwork] connects links inside one
// process for tests and models buffered amounts so backpressure can be
// exercised.
package transport
