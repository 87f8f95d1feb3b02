// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/peerdrop/peerdrop/lib/compress"
	"github.com/peerdrop/peerdrop/lib/schema/frame"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// File describes an outbound file.
type File struct {
	Name string
	Mime string
	Size int64

	// Content yields exactly Size bytes.
	Content io.Reader
}

// SendFile sends the file at path to peerID.
func (e *Engine) SendFile(ctx context.Context, peerID, path string) (string, error) {
	handle, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer handle.Close()
	info, err := handle.Stat()
	if err != nil {
		return "", fmt.Errorf("inspecting %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	return e.Send(ctx, peerID, File{
		Name:    filepath.Base(path),
		Mime:    mime.TypeByExtension(filepath.Ext(path)),
		Size:    info.Size(),
		Content: handle,
	})
}

// Send offers file to peerID, waits for the decision, and streams it.
// It returns the transfer's file ID, also on failure once the offer
// was made.
func (e *Engine) Send(ctx context.Context, peerID string, file File) (string, error) {
	rec := &record{
		fileID:    uuid.NewString(),
		peerID:    peerID,
		direction: Outbound,
		name:      file.Name,
		mime:      file.Mime,
		size:      file.Size,
		strategy:  e.strategyFor(file.Size),
		state:     StateHandshaking,
		decision:  make(chan bool, 1),
		done:      make(chan struct{}),
	}
	e.mu.Lock()
	e.records[rec.fileID] = rec
	e.mu.Unlock()

	err := e.send(ctx, rec, file)

	e.mu.Lock()
	switch {
	case err == nil:
		e.moveLocked(rec, StateCompleted)
	case errors.Is(err, ErrRejected):
		e.moveLocked(rec, StateRejected)
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		e.moveLocked(rec, StateCancelled)
	default:
		e.moveLocked(rec, StateFailed)
	}
	var progress *Progress
	if err == nil {
		progress = e.sampleLocked(rec, 1, true)
	}
	delete(e.records, rec.fileID)
	e.mu.Unlock()
	e.emitProgress(progress)

	if err != nil {
		e.logger.Info("transfer ended", "file_id", rec.fileID, "device_id", peerID, "error", err)
		return rec.fileID, err
	}
	e.logger.Info("transfer sent", "file_id", rec.fileID, "device_id", peerID, "size", file.Size)
	return rec.fileID, nil
}

func (e *Engine) send(ctx context.Context, rec *record, file File) error {
	offer := &signal.FileOffer{
		FileID:   rec.fileID,
		Name:     file.Name,
		Mime:     file.Mime,
		Size:     file.Size,
		Strategy: rec.strategy.String(),
	}
	if err := e.sendControl(rec.peerID, offer, uuid.NewString()); err != nil {
		return fmt.Errorf("offering %s: %w", file.Name, err)
	}

	select {
	case accepted := <-rec.decision:
		if !accepted {
			return ErrRejected
		}
	case <-rec.done:
		err := e.stopped(rec)
		e.mu.Lock()
		notify := rec.notify
		e.mu.Unlock()
		if notify {
			e.sendFrame(rec.peerID, &frame.CancelUpload{FileID: rec.fileID})
		}
		return err
	case <-ctx.Done():
		e.sendFrame(rec.peerID, &frame.CancelUpload{FileID: rec.fileID})
		return ctx.Err()
	}

	e.mu.Lock()
	ok := e.moveLocked(rec, StateTransferring)
	e.mu.Unlock()
	if !ok {
		return e.stopped(rec)
	}

	err := e.sendFrame(rec.peerID, &frame.Metadata{
		FileID: rec.fileID,
		Name:   file.Name,
		Mime:   file.Mime,
		Size:   file.Size,
	})
	if err == nil {
		if rec.strategy == Small {
			err = e.sendSmall(ctx, rec, file)
		} else {
			err = e.sendLarge(ctx, rec, file)
		}
	}
	if err != nil {
		e.mu.Lock()
		notify := rec.err == nil || rec.notify
		e.mu.Unlock()
		if notify {
			// Best effort: the link may be the thing that failed.
			e.sendFrame(rec.peerID, &frame.CancelUpload{FileID: rec.fileID})
		}
	}
	return err
}

// stopped returns the reason an outbound transfer was aborted.
func (e *Engine) stopped(rec *record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.err != nil {
		return rec.err
	}
	return ErrCancelled
}

func (e *Engine) handleDecision(peerID, fileID string, accepted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.lookupLocked(peerID, fileID, Outbound)
	if rec == nil || rec.state != StateHandshaking {
		e.logger.Debug("dropping decision for unknown transfer", "file_id", fileID, "accepted", accepted)
		return
	}
	if !accepted {
		e.moveLocked(rec, StateRejected)
	} else {
		e.moveLocked(rec, StateAccepted)
	}
	select {
	case rec.decision <- accepted:
	default:
	}
}

// waitTurn blocks while the transfer is paused and fails once it is
// aborted. It is the send loop's only cancellation point besides
// backpressure.
func (e *Engine) waitTurn(ctx context.Context, rec *record) error {
	for {
		e.mu.Lock()
		err := rec.err
		paused := rec.paused
		e.mu.Unlock()
		if err != nil {
			return err
		}
		if !paused {
			return nil
		}
		select {
		case <-e.config.Clock.After(e.config.PausePoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// emitChunk sends one chunk frame on the peer's next channel.
func (e *Engine) emitChunk(ctx context.Context, rec *record, number int, data []byte, fraction float64) error {
	if err := e.waitTurn(ctx, rec); err != nil {
		return err
	}
	encoded, err := frame.Encode(&frame.Chunk{FileID: rec.fileID, Number: number, Data: data})
	if err != nil {
		return err
	}
	handle, err := e.peers.Next(rec.peerID)
	if err != nil {
		return err
	}
	if err := e.peers.SendChunk(ctx, handle, encoded); err != nil {
		return err
	}

	e.mu.Lock()
	rec.chunksReceived++
	rec.bytesMoved += int64(len(data))
	progress := e.sampleLocked(rec, fraction, false)
	e.mu.Unlock()
	e.emitProgress(progress)
	return nil
}

func (e *Engine) sendSmall(ctx context.Context, rec *record, file File) error {
	data, err := io.ReadAll(io.LimitReader(file.Content, file.Size+1))
	if err != nil {
		return fmt.Errorf("reading %s: %w", file.Name, err)
	}
	if int64(len(data)) != file.Size {
		return fmt.Errorf("%s is %d bytes, expected %d", file.Name, len(data), file.Size)
	}
	digest := blake3.Sum256(data)
	pieces := split(compress.CompressBlock(data), e.config.ChunkSize)

	e.mu.Lock()
	rec.chunksExpected = len(pieces)
	e.mu.Unlock()

	for number, piece := range pieces {
		fraction := float64(number+1) / float64(len(pieces))
		if err := e.emitChunk(ctx, rec, number, piece, fraction); err != nil {
			return err
		}
	}
	return e.sendFrame(rec.peerID, &frame.End{FileID: rec.fileID, TotalChunks: len(pieces), Digest: digest[:]})
}

// split cuts data into pieces of at most size bytes.
func split(data []byte, size int) [][]byte {
	pieces := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		pieces = append(pieces, data[:size])
		data = data[size:]
	}
	return append(pieces, data)
}

func (e *Engine) sendLarge(ctx context.Context, rec *record, file File) error {
	counter := &countingReader{reader: io.LimitReader(file.Content, file.Size)}
	hasher := blake3.New()
	chunker := &chunkWriter{
		engine:  e,
		ctx:     ctx,
		rec:     rec,
		size:    e.config.ChunkSize,
		counter: counter,
		total:   file.Size,
	}

	encoder, err := compress.NewStreamWriter(chunker)
	if err != nil {
		return err
	}
	if _, err := io.Copy(encoder, io.TeeReader(counter, hasher)); err != nil {
		encoder.Close()
		if chunker.err != nil {
			return chunker.err
		}
		return fmt.Errorf("compressing %s: %w", file.Name, err)
	}
	if err := encoder.Close(); err != nil {
		if chunker.err != nil {
			return chunker.err
		}
		return fmt.Errorf("compressing %s: %w", file.Name, err)
	}
	if counter.read != file.Size {
		return fmt.Errorf("%s is %d bytes, expected %d", file.Name, counter.read, file.Size)
	}
	if err := chunker.flush(); err != nil {
		return err
	}
	return e.sendFrame(rec.peerID, &frame.End{FileID: rec.fileID, TotalChunks: chunker.next, Digest: hasher.Sum(nil)})
}

type countingReader struct {
	reader io.Reader
	read   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.read += int64(n)
	return n, err
}

// chunkWriter cuts the compressed stream into chunk frames as it is
// produced.
type chunkWriter struct {
	engine  *Engine
	ctx     context.Context
	rec     *record
	size    int
	counter *countingReader
	total   int64

	buffer []byte
	next   int
	err    error
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.buffer = append(w.buffer, p...)
	for len(w.buffer) >= w.size {
		if err := w.emit(w.buffer[:w.size]); err != nil {
			return 0, err
		}
		w.buffer = append(w.buffer[:0], w.buffer[w.size:]...)
	}
	return len(p), nil
}

func (w *chunkWriter) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}
	err := w.emit(w.buffer)
	w.buffer = nil
	return err
}

func (w *chunkWriter) emit(data []byte) error {
	fraction := 1.0
	if w.total > 0 {
		fraction = float64(w.counter.read) / float64(w.total)
	}
	if err := w.engine.emitChunk(w.ctx, w.rec, w.next, data, fraction); err != nil {
		w.err = err
		return err
	}
	w.next++
	return nil
}
