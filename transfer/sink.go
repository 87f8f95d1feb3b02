// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink stores received files.
type Sink interface {
	// Create starts a file. Nothing is visible until Commit.
	Create(name string, size int64) (SinkFile, error)
}

// SinkFile is one file being written to a Sink.
type SinkFile interface {
	io.Writer

	// Commit publishes the file and returns where it landed.
	Commit() (string, error)

	// Abort discards the file.
	Abort() error
}

// DirSink writes files into a directory through a temporary file that
// is renamed on Commit. Names are reduced to a base name and made
// unique within the directory.
type DirSink struct {
	Dir string

	mu sync.Mutex
}

// NewDirSink returns a sink writing into dir, creating it if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

func (s *DirSink) Create(name string, _ int64) (SinkFile, error) {
	file, err := os.CreateTemp(s.Dir, ".peerdrop-*.part")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}
	return &dirFile{sink: s, file: file, name: sanitizeName(name)}, nil
}

type dirFile struct {
	sink *DirSink
	file *os.File
	name string
}

func (f *dirFile) Write(p []byte) (int, error) { return f.file.Write(p) }

func (f *dirFile) Commit() (string, error) {
	if err := f.file.Sync(); err != nil {
		f.Abort()
		return "", fmt.Errorf("syncing %s: %w", f.name, err)
	}
	if err := f.file.Close(); err != nil {
		os.Remove(f.file.Name())
		return "", fmt.Errorf("closing %s: %w", f.name, err)
	}

	// Serialize name selection so two commits never pick the same
	// free name.
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	destination := uniquePath(f.sink.Dir, f.name)
	if err := os.Rename(f.file.Name(), destination); err != nil {
		os.Remove(f.file.Name())
		return "", fmt.Errorf("publishing %s: %w", f.name, err)
	}
	return destination, nil
}

func (f *dirFile) Abort() error {
	f.file.Close()
	if err := os.Remove(f.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// sanitizeName reduces a peer-supplied name to a safe base name.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "file"
	}
	return name
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first n
// that does not exist.
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate
	}
	extension := filepath.Ext(name)
	stem := strings.TrimSuffix(name, extension)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, extension))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// MemorySink keeps committed files in memory, keyed by name.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

func (s *MemorySink) Create(name string, size int64) (SinkFile, error) {
	file := &memoryFile{sink: s, name: name}
	if size > 0 && size < 1<<26 {
		file.buffer.Grow(int(size))
	}
	return file, nil
}

// File returns a committed file's contents.
func (s *MemorySink) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Len reports how many files were committed.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

type memoryFile struct {
	sink   *MemorySink
	name   string
	buffer bytes.Buffer
}

func (f *memoryFile) Write(p []byte) (int, error) { return f.buffer.Write(p) }

func (f *memoryFile) Commit() (string, error) {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	f.sink.files[f.name] = f.buffer.Bytes()
	return f.name, nil
}

func (f *memoryFile) Abort() error { return nil }
