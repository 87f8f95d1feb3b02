// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Get for a chunk that was never stored.
var ErrNotFound = errors.New("chunk not found")

// Store holds compressed chunks keyed by file and index.
type Store interface {
	// Put stores data at (fileID, index), replacing any previous
	// value.
	Put(ctx context.Context, fileID string, index int, data []byte) error

	// Get returns the chunk at (fileID, index) or ErrNotFound.
	Get(ctx context.Context, fileID string, index int) ([]byte, error)

	// Count returns the number of distinct chunks stored for fileID.
	Count(ctx context.Context, fileID string) (int, error)

	// Delete removes every chunk of fileID. Deleting an unknown file
	// is not an error.
	Delete(ctx context.Context, fileID string) error

	// FileIDs lists the files that have at least one chunk.
	FileIDs(ctx context.Context) ([]string, error)
}

// NewReader returns a reader over chunks 0..total-1 of fileID,
// concatenated in index order. A missing chunk fails the read with
// ErrNotFound.
func NewReader(ctx context.Context, store Store, fileID string, total int) io.Reader {
	return &sequentialReader{ctx: ctx, store: store, fileID: fileID, total: total}
}

type sequentialReader struct {
	ctx     context.Context
	store   Store
	fileID  string
	total   int
	next    int
	current []byte
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for len(r.current) == 0 {
		if r.next >= r.total {
			return 0, io.EOF
		}
		chunk, err := r.store.Get(r.ctx, r.fileID, r.next)
		if err != nil {
			return 0, fmt.Errorf("chunkstore: reading %s chunk %d: %w", r.fileID, r.next, err)
		}
		r.current = chunk
		r.next++
	}
	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}
