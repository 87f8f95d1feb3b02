// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore persists the compressed chunks of large incoming
// transfers until the transfer finalizes.
//
// Chunks are keyed by (fileID, index). Put is an upsert, so a chunk
// delivered twice or out of order overwrites safely. Once the last
// chunk has arrived, [NewReader] streams the chunks back in index
// order into the decompressor, and the transfer engine calls Delete
// when the transfer reaches a terminal state.
//
// [SQLite] is the durable implementation used by the client. [Memory]
// backs tests.
package chunkstore
