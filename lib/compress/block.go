// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ErrCorrupt reports compressed input that cannot be decoded.
var ErrCorrupt = errors.New("corrupt data")

// BlockTag is the first byte of every compressed block. The values
// are wire constants.
type BlockTag uint8

const (
	// BlockStored marks input that LZ4 could not shrink. The payload
	// is the original bytes.
	BlockStored BlockTag = 0

	// BlockLZ4 marks an LZ4 block payload.
	BlockLZ4 BlockTag = 1
)

func (tag BlockTag) String() string {
	switch tag {
	case BlockStored:
		return "stored"
	case BlockLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// CompressBlock compresses data in one shot. The result is a one-byte
// BlockTag followed by the payload.
func CompressBlock(data []byte) []byte {
	if len(data) > 0 {
		destination := make([]byte, 1+lz4.CompressBlockBound(len(data)))
		var compressor lz4.Compressor
		written, err := compressor.CompressBlock(data, destination[1:])
		// CompressBlock reports 0 for incompressible input.
		if err == nil && written > 0 && written < len(data) {
			destination[0] = byte(BlockLZ4)
			return destination[:1+written]
		}
	}
	stored := make([]byte, 1+len(data))
	stored[0] = byte(BlockStored)
	copy(stored[1:], data)
	return stored
}

// DecompressBlock reverses CompressBlock. size is the exact length of
// the original data.
func DecompressBlock(block []byte, size int) ([]byte, error) {
	if len(block) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrCorrupt)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrCorrupt, size)
	}
	payload := block[1:]

	switch BlockTag(block[0]) {
	case BlockStored:
		if len(payload) != size {
			return nil, fmt.Errorf("%w: stored block is %d bytes, expected %d", ErrCorrupt, len(payload), size)
		}
		out := make([]byte, size)
		copy(out, payload)
		return out, nil

	case BlockLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if read != size {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, read, size)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("%w: unknown block tag %d", ErrCorrupt, block[0])
	}
}
