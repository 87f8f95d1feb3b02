// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Peerdrop-edge is an edge gateway. Devices connect to its /ws
// websocket endpoint and authenticate against the account database;
// the gateway keeps one authenticated link to the central relay and
// hosts share sessions for anonymous devices.
//
//	peerdrop-edge --config /etc/peerdrop/config.yaml --listen :7401
//
// A failed relay authentication stops the process, since retrying
// with the same secret cannot succeed.
package main
