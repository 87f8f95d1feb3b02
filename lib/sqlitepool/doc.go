// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool shared by the
// account store (edge) and the chunk store (client).
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// prepared with WAL journaling, NORMAL synchronous, and a busy timeout,
// then runs the caller's Schema script so stores can declare their
// tables without a separate migration step.
//
// Connections are not safe for concurrent use. Use [Pool.With] for
// short units of work, or [Pool.Take] and [Pool.Put] when a connection
// must be held across calls:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM chunks WHERE file_id = ?", &sqlitex.ExecOptions{
//	        Args: []any{fileID},
//	    })
//	})
package sqlitepool
