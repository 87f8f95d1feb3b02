// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/peerdrop/peerdrop/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token_digest TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	device_id    TEXT NOT NULL UNIQUE,
	device_name  TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
`

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	pool              *sqlitepool.Pool
	allowRegistration bool
	logger            *slog.Logger
}

// OpenSQLite opens (creating if needed) the account database at path.
func OpenSQLite(path string, allowRegistration bool, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Schema: schema, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &SQLite{pool: pool, allowRegistration: allowRegistration, logger: logger}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) Authenticate(ctx context.Context, credentials Credentials) (*Account, error) {
	if credentials.Register {
		return s.register(ctx, credentials)
	}

	var (
		id    string
		hash  []byte
		found bool
	)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, password_hash FROM accounts WHERE username = ?`,
			&sqlitex.ExecOptions{
				Args: []any{credentials.Username},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id = stmt.ColumnText(0)
					hash = make([]byte, stmt.ColumnLen(1))
					stmt.ColumnBytes(1, hash)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("account: looking up %q: %w", credentials.Username, err)
	}
	if !found {
		return nil, ErrInvalidCredentials
	}
	if err := checkPassword(hash, credentials.Password); err != nil {
		return nil, err
	}
	return &Account{ID: id, Username: credentials.Username}, nil
}

func (s *SQLite) register(ctx context.Context, credentials Credentials) (*Account, error) {
	if !s.allowRegistration {
		return nil, ErrRegistrationDisabled
	}
	hash, err := hashPassword(credentials.Password)
	if err != nil {
		return nil, fmt.Errorf("account: hashing password: %w", err)
	}
	id := uuid.NewString()
	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO accounts (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, credentials.Username, hash, time.Now().Unix()}})
	})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("account: registering %q: %w", credentials.Username, err)
	}
	s.logger.Info("account registered", "account_id", id, "username", credentials.Username)
	return &Account{ID: id, Username: credentials.Username}, nil
}

func (s *SQLite) CreateSession(ctx context.Context, accountID, deviceID, deviceName string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("account: generating token: %w", err)
	}
	created := time.Now()

	err = s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		if err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE device_id = ?`,
			&sqlitex.ExecOptions{Args: []any{deviceID}}); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `
			INSERT INTO sessions (token_digest, account_id, device_id, device_name, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{tokenDigest(token), accountID, deviceID, deviceName, created.Unix()}})
	})
	if err != nil {
		return nil, fmt.Errorf("account: creating session for %s: %w", deviceID, err)
	}
	return &Session{
		Token:      token,
		AccountID:  accountID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		CreatedAt:  created,
	}, nil
}

func (s *SQLite) LookupSession(ctx context.Context, token, deviceID string) (*Session, error) {
	var session *Session
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT account_id, device_name, created_at FROM sessions
			WHERE token_digest = ? AND device_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{tokenDigest(token), deviceID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					session = &Session{
						AccountID:  stmt.ColumnText(0),
						DeviceID:   deviceID,
						DeviceName: stmt.ColumnText(1),
						CreatedAt:  time.Unix(stmt.ColumnInt64(2), 0),
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("account: looking up session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SQLite) RenameDevice(ctx context.Context, deviceID, name string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE sessions SET device_name = ? WHERE device_id = ?`,
			&sqlitex.ExecOptions{Args: []any{name, deviceID}})
	})
	if err != nil {
		return fmt.Errorf("account: renaming %s: %w", deviceID, err)
	}
	return nil
}

func (s *SQLite) DeleteSession(ctx context.Context, token string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM sessions WHERE token_digest = ?`,
			&sqlitex.ExecOptions{Args: []any{tokenDigest(token)}})
	})
	if err != nil {
		return fmt.Errorf("account: deleting session: %w", err)
	}
	return nil
}
