// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame defines the binary records sent over peer data
// channels during a file transfer.
//
// Each data channel message is one CBOR map with small integer keys.
// [Decode] returns exactly one of the concrete Frame types; [Encode]
// refuses to produce a record larger than [MaxSize], the largest
// message the transfer engine puts on a channel.
//
// The JSON handshake that precedes a transfer (file-metadata with a
// request ID, file-accept, file-reject) is not part of this package;
// it travels as text messages in the signaling envelope format.
package frame

import (
	"errors"
	"fmt"

	"github.com/peerdrop/peerdrop/lib/codec"
)

// MaxSize is the largest encoded frame in bytes.
const MaxSize = 64 * 1024

// MaxChunkData is the largest chunk payload that still fits in
// MaxSize alongside the chunk header fields.
const MaxChunkData = MaxSize - 256

// Kind identifies a frame variant. Values are wire constants.
type Kind uint8

const (
	KindMetadata     Kind = 1
	KindChunk        Kind = 2
	KindEnd          Kind = 3
	KindPause        Kind = 4
	KindResume       Kind = 5
	KindCancel       Kind = 6
	KindCancelUpload Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "file-metadata"
	case KindChunk:
		return "file-chunk"
	case KindEnd:
		return "file-end"
	case KindPause:
		return "file-pause"
	case KindResume:
		return "file-resume"
	case KindCancel:
		return "file-cancel"
	case KindCancelUpload:
		return "cancel-upload"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

var (
	// ErrMalformed reports bytes that are not a valid frame.
	ErrMalformed = errors.New("malformed frame")

	// ErrTooLarge reports a frame that would exceed MaxSize.
	ErrTooLarge = errors.New("frame too large")
)

// Frame is implemented only by the types in this package.
type Frame interface {
	Kind() Kind
	TransferID() string
	toWire() wire
}

// Metadata opens the data path of a transfer. It repeats the
// handshake's file description immediately before the first chunk.
type Metadata struct {
	FileID string
	Name   string
	Mime   string
	Size   int64
}

// Chunk carries one compressed fragment.
type Chunk struct {
	FileID string
	Number int
	Data   []byte
}

// End closes the data path and states how many chunks were sent.
// Digest is the BLAKE3-256 hash of the uncompressed file.
type End struct {
	FileID      string
	TotalChunks int
	Digest      []byte
}

// Pause asks the sender to hold before its next chunk.
type Pause struct{ FileID string }

// Resume releases a Pause.
type Resume struct{ FileID string }

// Cancel is the receiver aborting a transfer it is receiving.
type Cancel struct{ FileID string }

// CancelUpload is the sender abandoning a transfer it is sending. The
// receiver discards everything it holds for the file.
type CancelUpload struct{ FileID string }

func (*Metadata) Kind() Kind     { return KindMetadata }
func (*Chunk) Kind() Kind        { return KindChunk }
func (*End) Kind() Kind          { return KindEnd }
func (*Pause) Kind() Kind        { return KindPause }
func (*Resume) Kind() Kind       { return KindResume }
func (*Cancel) Kind() Kind       { return KindCancel }
func (*CancelUpload) Kind() Kind { return KindCancelUpload }

func (f *Metadata) TransferID() string     { return f.FileID }
func (f *Chunk) TransferID() string        { return f.FileID }
func (f *End) TransferID() string          { return f.FileID }
func (f *Pause) TransferID() string        { return f.FileID }
func (f *Resume) TransferID() string       { return f.FileID }
func (f *Cancel) TransferID() string       { return f.FileID }
func (f *CancelUpload) TransferID() string { return f.FileID }

// wire is the encoded record. Absent fields are omitted.
type wire struct {
	Kind        Kind   `cbor:"0,keyasint"`
	FileID      string `cbor:"1,keyasint"`
	ChunkNumber *int   `cbor:"2,keyasint,omitempty"`
	Data        []byte `cbor:"3,keyasint,omitempty"`
	TotalChunks *int   `cbor:"4,keyasint,omitempty"`
	Name        string `cbor:"5,keyasint,omitempty"`
	Mime        string `cbor:"6,keyasint,omitempty"`
	Size        *int64 `cbor:"7,keyasint,omitempty"`
	Digest      []byte `cbor:"8,keyasint,omitempty"`
}

func (f *Metadata) toWire() wire {
	size := f.Size
	return wire{Kind: KindMetadata, FileID: f.FileID, Name: f.Name, Mime: f.Mime, Size: &size}
}

func (f *Chunk) toWire() wire {
	number := f.Number
	return wire{Kind: KindChunk, FileID: f.FileID, ChunkNumber: &number, Data: f.Data}
}

func (f *End) toWire() wire {
	total := f.TotalChunks
	return wire{Kind: KindEnd, FileID: f.FileID, TotalChunks: &total, Digest: f.Digest}
}

func (f *Pause) toWire() wire        { return wire{Kind: KindPause, FileID: f.FileID} }
func (f *Resume) toWire() wire       { return wire{Kind: KindResume, FileID: f.FileID} }
func (f *Cancel) toWire() wire       { return wire{Kind: KindCancel, FileID: f.FileID} }
func (f *CancelUpload) toWire() wire { return wire{Kind: KindCancelUpload, FileID: f.FileID} }

// Encode serializes f.
func Encode(f Frame) ([]byte, error) {
	data, err := codec.Marshal(f.toWire())
	if err != nil {
		return nil, fmt.Errorf("frame: encoding %s: %w", f.Kind(), err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, f.Kind(), len(data), MaxSize)
	}
	return data, nil
}

// Decode parses one frame.
func Decode(data []byte) (Frame, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	var w wire
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.FileID == "" {
		return nil, fmt.Errorf("%w: %s without fileId", ErrMalformed, w.Kind)
	}

	switch w.Kind {
	case KindMetadata:
		if w.Size == nil || *w.Size < 0 {
			return nil, fmt.Errorf("%w: file-metadata without a valid size", ErrMalformed)
		}
		return &Metadata{FileID: w.FileID, Name: w.Name, Mime: w.Mime, Size: *w.Size}, nil
	case KindChunk:
		if w.ChunkNumber == nil || *w.ChunkNumber < 0 {
			return nil, fmt.Errorf("%w: file-chunk without a valid chunkNumber", ErrMalformed)
		}
		return &Chunk{FileID: w.FileID, Number: *w.ChunkNumber, Data: w.Data}, nil
	case KindEnd:
		if w.TotalChunks == nil || *w.TotalChunks < 0 {
			return nil, fmt.Errorf("%w: file-end without a valid totalChunks", ErrMalformed)
		}
		return &End{FileID: w.FileID, TotalChunks: *w.TotalChunks, Digest: w.Digest}, nil
	case KindPause:
		return &Pause{FileID: w.FileID}, nil
	case KindResume:
		return &Resume{FileID: w.FileID}, nil
	case KindCancel:
		return &Cancel{FileID: w.FileID}, nil
	case KindCancelUpload:
		return &CancelUpload{FileID: w.FileID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, uint8(w.Kind))
	}
}
