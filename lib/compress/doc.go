// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress provides the two compression codecs used by the
// transfer engine. They are deliberately separate code paths:
//
//   - Block (LZ4): whole-buffer, single-shot compression for small
//     files. The receiver holds every chunk in memory, reassembles the
//     block and decompresses it in one call. The uncompressed size is
//     known from the file metadata, which LZ4 block decoding requires.
//
//   - Stream (zstd): incremental compression for large files. The
//     sender never holds the whole file; compressed output is cut into
//     chunks as it is produced, and the receiver decompresses by
//     streaming persisted chunks back through a zstd decoder.
//
// Both paths report malformed input as ErrCorrupt.
package compress
