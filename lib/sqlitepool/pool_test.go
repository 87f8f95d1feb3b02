// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerdrop/peerdrop/lib/sqlitepool"
)

const testSchema = `CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, value TEXT NOT NULL);`

func openTestPool(t *testing.T, poolSize int) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: poolSize,
		Schema:   testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, 1)
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestSchemaAppliedToEveryConnection(t *testing.T) {
	pool := openTestPool(t, 3)
	ctx := context.Background()

	var conns []*sqlite.Conn
	for i := 0; i < 3; i++ {
		conn, err := pool.Take(ctx)
		if err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
		conns = append(conns, conn)
		err = sqlitex.Execute(conn, "INSERT INTO items (value) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{"x"},
		})
		if err != nil {
			t.Fatalf("INSERT on connection %d: %v", i, err)
		}
	}
	for _, conn := range conns {
		pool.Put(conn)
	}
}

func TestConcurrentWith(t *testing.T) {
	pool := openTestPool(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- pool.With(ctx, func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "INSERT INTO items (value) VALUES (?)", &sqlitex.ExecOptions{
					Args: []any{i},
				})
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("With: %v", err)
		}
	}

	var count int
	err := pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM items", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 16 {
		t.Fatalf("count = %d, want 16", count)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open accepted an empty path")
	}
	if _, err := sqlitepool.Open(sqlitepool.Config{Path: ":memory:", PoolSize: 2}); err == nil {
		t.Fatal("Open accepted a multi-connection in-memory pool")
	}
}

func TestTakeHonorsCancelledContext(t *testing.T) {
	pool := openTestPool(t, 1)
	held, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take succeeded with an exhausted pool and cancelled context")
	}
}
