// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	allowRegistration bool
	now               func() time.Time

	mu       sync.Mutex
	accounts map[string]*memoryAccount // by username
	sessions map[string]*Session       // by token digest
}

type memoryAccount struct {
	id           string
	passwordHash []byte
}

// NewMemory returns an empty store.
func NewMemory(allowRegistration bool) *Memory {
	return &Memory{
		allowRegistration: allowRegistration,
		now:               time.Now,
		accounts:          make(map[string]*memoryAccount),
		sessions:          make(map[string]*Session),
	}
}

// AddAccount creates an account directly and returns its ID.
func (m *Memory) AddAccount(username, password string) (string, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[username]; exists {
		return "", ErrAccountExists
	}
	id := uuid.NewString()
	m.accounts[username] = &memoryAccount{id: id, passwordHash: hash}
	return id, nil
}

func (m *Memory) Authenticate(_ context.Context, credentials Credentials) (*Account, error) {
	if credentials.Register {
		if !m.allowRegistration {
			return nil, ErrRegistrationDisabled
		}
		id, err := m.AddAccount(credentials.Username, credentials.Password)
		if err != nil {
			return nil, err
		}
		return &Account{ID: id, Username: credentials.Username}, nil
	}

	m.mu.Lock()
	record, ok := m.accounts[credentials.Username]
	m.mu.Unlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := checkPassword(record.passwordHash, credentials.Password); err != nil {
		return nil, err
	}
	return &Account{ID: record.id, Username: credentials.Username}, nil
}

func (m *Memory) CreateSession(_ context.Context, accountID, deviceID, deviceName string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("account: generating token: %w", err)
	}
	session := &Session{
		AccountID:  accountID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		CreatedAt:  m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for digest, existing := range m.sessions {
		if existing.DeviceID == deviceID {
			delete(m.sessions, digest)
		}
	}
	m.sessions[tokenDigest(token)] = session

	issued := *session
	issued.Token = token
	return &issued, nil
}

func (m *Memory) LookupSession(_ context.Context, token, deviceID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenDigest(token)]
	if !ok || session.DeviceID != deviceID {
		return nil, ErrSessionNotFound
	}
	found := *session
	return &found, nil
}

func (m *Memory) RenameDevice(_ context.Context, deviceID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.DeviceID == deviceID {
			session.DeviceName = name
		}
	}
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenDigest(token))
	return nil
}
