// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// NewStreamWriter returns a zstd encoder writing compressed output to
// w. Close must be called to flush the final frame; it does not close
// w.
func NewStreamWriter(w io.Writer) (*zstd.Encoder, error) {
	encoder, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("compress: creating zstd encoder: %w", err)
	}
	return encoder, nil
}

// StreamReader decompresses a zstd stream. Errors from the underlying
// reader are returned unchanged; every other decoding failure is
// reported as ErrCorrupt.
type StreamReader struct {
	source  *trackingReader
	decoder *zstd.Decoder
}

// NewStreamReader returns a reader decompressing r.
func NewStreamReader(r io.Reader) (*StreamReader, error) {
	source := &trackingReader{reader: r}
	decoder, err := zstd.NewReader(source, zstd.WithDecoderConcurrency(1))
	if err != nil {
		if source.err != nil {
			return nil, source.err
		}
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	return &StreamReader{source: source, decoder: decoder}, nil
}

func (s *StreamReader) Read(p []byte) (int, error) {
	n, err := s.decoder.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if s.source.err != nil {
		return n, s.source.err
	}
	return n, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
}

// Close releases the decoder's resources. It does not close the
// underlying reader.
func (s *StreamReader) Close() error {
	s.decoder.Close()
	return nil
}

// trackingReader remembers the first non-EOF error of the wrapped
// reader so it can be told apart from a decoding error.
type trackingReader struct {
	reader io.Reader
	err    error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
