// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerdrop/peerdrop/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	file_id     TEXT    NOT NULL,
	chunk_index INTEGER NOT NULL,
	data        BLOB    NOT NULL,
	PRIMARY KEY (file_id, chunk_index)
) WITHOUT ROWID;
`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the chunk database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: %w", err)
	}
	return &SQLite{pool: pool}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) Put(ctx context.Context, fileID string, index int, data []byte) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO chunks (file_id, chunk_index, data) VALUES (?, ?, ?)
			ON CONFLICT (file_id, chunk_index) DO UPDATE SET data = excluded.data`,
			&sqlitex.ExecOptions{Args: []any{fileID, index, data}})
		if err != nil {
			return fmt.Errorf("chunkstore: storing %s chunk %d: %w", fileID, index, err)
		}
		return nil
	})
}

func (s *SQLite) Get(ctx context.Context, fileID string, index int) ([]byte, error) {
	var data []byte
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT data FROM chunks WHERE file_id = ? AND chunk_index = ?`,
			&sqlitex.ExecOptions{
				Args: []any{fileID, index},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					data = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, data)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: loading %s chunk %d: %w", fileID, index, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *SQLite) Count(ctx context.Context, fileID string) (int, error) {
	var count int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM chunks WHERE file_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{fileID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, fmt.Errorf("chunkstore: counting %s: %w", fileID, err)
	}
	return count, nil
}

func (s *SQLite) Delete(ctx context.Context, fileID string) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM chunks WHERE file_id = ?`,
			&sqlitex.ExecOptions{Args: []any{fileID}})
		if err != nil {
			return fmt.Errorf("chunkstore: deleting %s: %w", fileID, err)
		}
		return nil
	})
}

func (s *SQLite) FileIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT DISTINCT file_id FROM chunks ORDER BY file_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ids = append(ids, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: listing files: %w", err)
	}
	return ids, nil
}
