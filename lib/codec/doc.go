// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every binary
// encoding in peerdrop.
//
// Peerdrop speaks two formats. JSON is used on the signaling path
// (device, edge and relay websockets) and for the transfer handshake,
// because those messages are small and benefit from being readable in
// logs. CBOR is used on the data path: every file-metadata, file-chunk
// and control frame sent over a peer data channel is one CBOR record,
// where raw byte strings avoid base64 inflation of chunk payloads.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same frame always produces the same bytes and frame sizes can be
// bounded ahead of time.
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
package codec
