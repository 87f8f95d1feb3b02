// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the central relay: the hub every edge
// gateway connects to so that devices attached to different edges can
// see and reach each other.
//
// Each edge opens one websocket to the relay and authenticates with a
// shared secret. The relay keeps a roster of which edge holds which
// device of which account. A single actor goroutine owns the roster;
// every edge session's reader feeds its messages into one channel and
// the actor processes them in arrival order. This makes presence
// handling a sequence of pure roster transitions (see roster) with
// the socket writes hanging off the end.
//
// Presence (connection, disconnection, name-change) is fanned out to
// every edge that holds a device of the account, including the edge
// that reported it; edges deliver it to their local devices and never
// short-circuit it. A broadcast goes to the single edge holding the
// target; broadcast-all to every edge holding the account.
package relay
