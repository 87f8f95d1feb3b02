// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Peerdrop-relay is the central relay. Edge gateways connect to its
// /edge websocket endpoint, authenticate with the shared secret, and
// exchange presence and routed messages through it.
//
//	peerdrop-relay --config /etc/peerdrop/config.yaml
//
// The relay section of the configuration file supplies the listen
// address, the secret and the edge auth timeout. --listen overrides
// the address.
package main
