// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer moves files between devices over a peer link.
//
// A transfer starts with a JSON handshake on the control path: the
// sender offers (file-metadata) and waits for file-accept or
// file-reject. After acceptance the file travels as binary frames
// (lib/schema/frame): a metadata frame, compressed chunks spread
// across the peer's channel pool, and an end frame carrying the chunk
// count and a BLAKE3 digest of the original bytes.
//
// Files under [DefaultSmallThreshold] are compressed in one LZ4 block
// and reassembled in memory. Larger files are zstd-compressed as a
// stream; the receiver persists each chunk in a [chunkstore.Store]
// and decompresses by streaming the store in chunk order. Chunks may
// arrive in any order on either path.
//
// The receiver can pause, resume or cancel; the sender honours these
// cooperatively before each chunk. A sender abandoning an upload sends
// cancel-upload and the receiver discards everything it holds.
package transfer
