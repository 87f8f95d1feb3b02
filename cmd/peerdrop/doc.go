// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Peerdrop is the device command line. It connects to an edge,
// negotiates direct peer links with sibling devices or share guests,
// and moves files over them.
//
//	peerdrop login --username ada
//	peerdrop devices
//	peerdrop send phone ./photo.jpg
//	peerdrop receive --dir ~/Downloads
//	peerdrop share create ./slides.pdf
//	peerdrop share join 3f0c...
//
// The device ID and session token live in client.state_dir; chunks
// of large inbound files are persisted there too so a restart can
// purge what a crash left behind.
package main
