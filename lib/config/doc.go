// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the peerdrop configuration file.
//
// One file describes all three roles; each binary reads its own
// section:
//
//	relay:
//	  listen: ":7400"
//	  secret: ${PEERDROP_RELAY_SECRET}
//	edge:
//	  id: edge-a
//	  listen: ":7401"
//	  relay_url: ws://relay.internal:7400/edge
//	client:
//	  edge_url: wss://peerdrop.example.com/ws
//	  device_name: laptop
//
// Files ending in .json or .jsonc are accepted too; comments and
// trailing commas are stripped before decoding. ${VAR} and
// ${VAR:-default} are expanded in string fields. Durations use Go
// syntax ("15s", "500ms").
package config
