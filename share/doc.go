// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package share keeps the edge's ephemeral share sessions.
//
// A share session lets a device hand files to a guest that has no
// account. The sharer creates a session and receives a token; the
// guest presents the token with the passcode; once admitted, the two
// exchange link negotiation messages addressed by token. Sessions are
// held in memory by the edge that created them and vanish on close or
// restart.
//
// The registry deals only in connection IDs. Delivering notifications
// to those connections is the caller's job.
package share
