// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	files map[string]map[int][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]map[int][]byte)}
}

func (m *Memory) Put(_ context.Context, fileID string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.files[fileID]
	if !ok {
		chunks = make(map[int][]byte)
		m.files[fileID] = chunks
	}
	chunks[index] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, fileID string, index int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID][index]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Count(_ context.Context, fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files[fileID]), nil
}

func (m *Memory) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, fileID)
	return nil
}

func (m *Memory) FileIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
