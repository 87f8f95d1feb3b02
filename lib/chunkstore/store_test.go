// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

// storeFactories runs every test against both implementations.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"sqlite": func() Store {
			store, err := OpenSQLite(filepath.Join(t.TempDir(), "chunks.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestPutIsIdempotentUpsert(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			ctx := context.Background()

			for _, index := range []int{2, 0, 1, 2, 0} {
				if err := store.Put(ctx, "file-a", index, []byte{byte(index)}); err != nil {
					t.Fatalf("Put %d: %v", index, err)
				}
			}
			if err := store.Put(ctx, "file-a", 1, []byte("replaced")); err != nil {
				t.Fatalf("Put replacement: %v", err)
			}

			count, err := store.Count(ctx, "file-a")
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if count != 3 {
				t.Fatalf("Count = %d, want 3", count)
			}
			data, err := store.Get(ctx, "file-a", 1)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(data) != "replaced" {
				t.Fatalf("Get = %q, want the replacement", data)
			}
		})
	}
}

func TestReaderConcatenatesInIndexOrder(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			ctx := context.Background()
			parts := [][]byte{[]byte("alpha-"), []byte("beta-"), []byte("gamma")}
			for _, index := range []int{2, 0, 1} {
				if err := store.Put(ctx, "f", index, parts[index]); err != nil {
					t.Fatalf("Put: %v", err)
				}
			}
			out, err := io.ReadAll(NewReader(ctx, store, "f", 3))
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(out, []byte("alpha-beta-gamma")) {
				t.Fatalf("read %q", out)
			}
		})
	}
}

func TestReaderReportsGap(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			ctx := context.Background()
			store.Put(ctx, "f", 0, []byte("a"))
			store.Put(ctx, "f", 2, []byte("c"))
			_, err := io.ReadAll(NewReader(ctx, store, "f", 3))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteRemovesOnlyThatFile(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			ctx := context.Background()
			store.Put(ctx, "keep", 0, []byte("k"))
			store.Put(ctx, "drop", 0, []byte("d"))
			store.Put(ctx, "drop", 1, []byte("d"))

			if err := store.Delete(ctx, "drop"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "never-existed"); err != nil {
				t.Fatalf("Delete of unknown file: %v", err)
			}
			ids, err := store.FileIDs(ctx)
			if err != nil {
				t.Fatalf("FileIDs: %v", err)
			}
			if len(ids) != 1 || ids[0] != "keep" {
				t.Fatalf("FileIDs = %v, want [keep]", ids)
			}
			if _, err := store.Get(ctx, "drop", 0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after Delete error = %v, want ErrNotFound", err)
			}
		})
	}
}
