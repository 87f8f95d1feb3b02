// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
)

func TestBlockRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	cases := []struct {
		name    string
		data    []byte
		wantTag BlockTag
	}{
		{"empty", nil, BlockStored},
		{"text", []byte(strings.Repeat("peerdrop chunk ", 500)), BlockLZ4},
		{"random", random, BlockStored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block := CompressBlock(tc.data)
			if BlockTag(block[0]) != tc.wantTag {
				t.Fatalf("tag = %s, want %s", BlockTag(block[0]), tc.wantTag)
			}
			out, err := DecompressBlock(block, len(tc.data))
			if err != nil {
				t.Fatalf("DecompressBlock: %v", err)
			}
			if !bytes.Equal(out, tc.data) {
				t.Fatal("round trip mismatch")
			}
		})
	}
}

func TestDecompressBlockCorrupt(t *testing.T) {
	block := CompressBlock([]byte(strings.Repeat("abcdefgh", 1000)))

	cases := map[string]struct {
		block []byte
		size  int
	}{
		"empty":       {nil, 10},
		"unknown tag": {[]byte{9, 1, 2, 3}, 3},
		"wrong size":  {block, 7999},
		"truncated":   {block[:len(block)/2], 8000},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecompressBlock(tc.block, tc.size); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("streaming compression for large files\n", 20000))

	var compressed bytes.Buffer
	writer, err := NewStreamWriter(&compressed)
	if err != nil {
		t.Fatalf("NewStreamWriter: %v", err)
	}
	for offset := 0; offset < len(data); offset += 7000 {
		end := min(offset+7000, len(data))
		if _, err := writer.Write(data[offset:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if compressed.Len() >= len(data) {
		t.Fatalf("compressed %d bytes into %d", len(data), compressed.Len())
	}

	reader, err := NewStreamReader(&compressed)
	if err != nil {
		t.Fatalf("NewStreamReader: %v", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("stream round trip mismatch")
	}
}

func TestStreamReaderCorrupt(t *testing.T) {
	if _, err := readStream(bytes.NewReader([]byte("definitely not zstd"))); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}
}

func TestStreamReaderPassesSourceErrors(t *testing.T) {
	sourceErr := errors.New("chunk store unavailable")
	if _, err := readStream(&failingReader{err: sourceErr}); !errors.Is(err, sourceErr) {
		t.Fatalf("error = %v, want the source error", err)
	}
}

// readStream decompresses r fully. Depending on how eagerly the
// decoder reads, errors surface from NewStreamReader or from Read.
func readStream(r io.Reader) ([]byte, error) {
	reader, err := NewStreamReader(r)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }
