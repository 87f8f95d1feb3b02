// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountExists is returned when registering a taken username.
	ErrAccountExists = errors.New("account already exists")

	// ErrRegistrationDisabled is returned for a registration attempt
	// against a store that does not allow it.
	ErrRegistrationDisabled = errors.New("registration disabled")

	// ErrSessionNotFound is returned for an unknown or superseded
	// token, or a token presented by a different device.
	ErrSessionNotFound = errors.New("session not found")
)

// Credentials is a username and password, optionally asking for a new
// account.
type Credentials struct {
	Username string
	Password string
	Register bool
}

// Account identifies an authenticated user.
type Account struct {
	ID       string
	Username string
}

// Session binds a bearer token to one device of one account. Token is
// only populated by CreateSession.
type Session struct {
	Token      string
	AccountID  string
	DeviceID   string
	DeviceName string
	CreatedAt  time.Time
}

// Store is the interface the edge consumes.
type Store interface {
	// Authenticate checks credentials, registering a new account
	// first when Register is set.
	Authenticate(ctx context.Context, credentials Credentials) (*Account, error)

	// CreateSession issues a token for deviceID, invalidating any
	// previous session of that device.
	CreateSession(ctx context.Context, accountID, deviceID, deviceName string) (*Session, error)

	// LookupSession resolves a token presented by deviceID.
	LookupSession(ctx context.Context, token, deviceID string) (*Session, error)

	// RenameDevice updates the display name stored with the device's
	// session.
	RenameDevice(ctx context.Context, deviceID, name string) error

	// DeleteSession revokes a token. Unknown tokens are ignored.
	DeleteSession(ctx context.Context, token string) error
}

// bcryptCost is a variable so tests can lower it.
var bcryptCost = bcrypt.DefaultCost

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
}

func checkPassword(hash []byte, password string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func newToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// tokenDigest is the stored form of a token.
func tokenDigest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
