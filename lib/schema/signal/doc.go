// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package signal defines the signaling protocol spoken on the device,
// edge and relay websockets.
//
// Every websocket text frame is one JSON [Envelope]:
//
//	{"type": "broadcast", "data": {...}, "requestId": "r-7"}
//
// [Decode] turns an envelope into exactly one concrete [Message] type
// (for example *Auth or *ShareGuestJoin). Message is sealed: only this
// package can add variants, so a type switch over Message in a handler
// is checked against a closed set. Decode reports unknown types with
// [ErrUnknownType] and undecodable or incomplete messages with
// [ErrMalformed]; what happens next is the receiver's policy (device
// sockets close, the edge-relay link logs and drops).
//
// The same message types travel in both directions and across both
// hops. Fields that only make sense on one hop (EdgeID and Secret on
// Auth, AccountID on Broadcast) are omitted elsewhere.
package signal
