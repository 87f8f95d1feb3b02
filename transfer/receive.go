// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/peerdrop/peerdrop/lib/chunkstore"
	"github.com/peerdrop/peerdrop/lib/compress"
	"github.com/peerdrop/peerdrop/lib/schema/frame"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

func (e *Engine) handleOffer(peerID string, offer *signal.FileOffer, requestID string) {
	e.mu.Lock()
	if _, exists := e.records[offer.FileID]; exists {
		e.mu.Unlock()
		e.logger.Warn("ignoring duplicate file offer",
			"file_id", offer.FileID,
			"device_id", peerID,
			"request_id", requestID,
		)
		return
	}
	// The sender's path wins; thresholds may differ between devices.
	strategy, ok := parseStrategy(offer.Strategy)
	if !ok {
		strategy = e.strategyFor(offer.Size)
	}
	rec := &record{
		fileID:    offer.FileID,
		peerID:    peerID,
		direction: Inbound,
		name:      offer.Name,
		mime:      offer.Mime,
		size:      offer.Size,
		strategy:  strategy,
		state:     StateHandshaking,
	}
	e.records[offer.FileID] = rec
	e.mu.Unlock()

	e.logger.Info("file offered",
		"file_id", offer.FileID,
		"device_id", peerID,
		"name", offer.Name,
		"size", offer.Size,
		"strategy", rec.strategy,
	)
	if e.events.Offer == nil {
		return
	}
	e.events.Offer(Offer{
		PeerID: peerID,
		FileID: offer.FileID,
		Name:   offer.Name,
		Mime:   offer.Mime,
		Size:   offer.Size,
	})
}

// Accept admits an offered transfer. Receive state is in place before
// the sender hears of it, so chunks can never outrun it.
func (e *Engine) Accept(fileID string) error {
	if e.config.Sink == nil {
		return fmt.Errorf("accepting %s: no sink configured", fileID)
	}
	e.mu.Lock()
	rec := e.records[fileID]
	if rec == nil || rec.direction != Inbound {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if !e.moveLocked(rec, StateAccepted) {
		state := rec.state
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot accept a %s transfer", ErrInvalidState, state)
	}
	rec.chunksExpected = -1
	rec.seen = make(map[int]struct{})
	if rec.strategy == Small {
		rec.chunks = make(map[int][]byte)
	}
	peerID := rec.peerID
	e.mu.Unlock()

	return e.sendControl(peerID, &signal.FileAccept{FileID: fileID}, "")
}

// Reject declines an offered transfer.
func (e *Engine) Reject(fileID, reason string) error {
	e.mu.Lock()
	rec := e.records[fileID]
	if rec == nil || rec.direction != Inbound {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if !e.moveLocked(rec, StateRejected) {
		state := rec.state
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot reject a %s transfer", ErrInvalidState, state)
	}
	delete(e.records, fileID)
	peerID := rec.peerID
	e.mu.Unlock()

	return e.sendControl(peerID, &signal.FileReject{FileID: fileID, Reason: reason}, "")
}

// acceptedLocked returns the inbound record for a data frame, or nil
// if the frame must be dropped.
func (e *Engine) acceptedLocked(peerID, fileID string) *record {
	rec := e.lookupLocked(peerID, fileID, Inbound)
	if rec == nil || rec.state == StateHandshaking || rec.finalized {
		return nil
	}
	return rec
}

func (e *Engine) handleMetadata(peerID string, metadata *frame.Metadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.acceptedLocked(peerID, metadata.FileID)
	if rec == nil {
		e.logger.Debug("dropping metadata for unknown transfer", "file_id", metadata.FileID)
		return
	}
	if metadata.Size != rec.size {
		e.logger.Warn("metadata size differs from offer",
			"file_id", rec.fileID,
			"offered", rec.size,
			"metadata", metadata.Size,
		)
	}
	e.moveLocked(rec, StateTransferring)
}

func (e *Engine) handleChunk(peerID string, chunk *frame.Chunk) {
	ctx := context.Background()

	e.mu.Lock()
	rec := e.acceptedLocked(peerID, chunk.FileID)
	if rec == nil {
		e.mu.Unlock()
		e.logger.Debug("dropping chunk for unknown transfer", "file_id", chunk.FileID, "chunk", chunk.Number)
		return
	}
	if _, duplicate := rec.seen[chunk.Number]; duplicate {
		e.mu.Unlock()
		return
	}
	if rec.strategy == Small {
		rec.chunks[chunk.Number] = chunk.Data
	} else if err := e.config.Store.Put(ctx, rec.fileID, chunk.Number, chunk.Data); err != nil {
		result := e.purgeLocked(rec, StateFailed, fmt.Errorf("persisting chunk %d: %w", chunk.Number, err))
		e.mu.Unlock()
		e.deleteStored(rec)
		e.report(result)
		return
	}
	rec.seen[chunk.Number] = struct{}{}
	rec.chunksReceived++
	rec.bytesMoved += int64(len(chunk.Data))
	if rec.state == StateAccepted {
		e.moveLocked(rec, StateTransferring)
	}
	progress := e.sampleLocked(rec, e.receiveFraction(rec), false)
	complete := rec.chunksExpected >= 0 && rec.chunksReceived == rec.chunksExpected
	if complete {
		rec.finalized = true
	}
	e.mu.Unlock()

	e.emitProgress(progress)
	if complete {
		go e.finalize(rec)
	}
}

// receiveFraction estimates progress before the chunk count is known
// by assuming compressed size equals original size.
func (e *Engine) receiveFraction(rec *record) float64 {
	expected := rec.chunksExpected
	if expected < 0 {
		expected = int((rec.size + int64(e.config.ChunkSize) - 1) / int64(e.config.ChunkSize))
	}
	if expected <= 0 {
		return 0
	}
	return float64(rec.chunksReceived) / float64(expected)
}

func (e *Engine) handleEnd(peerID string, end *frame.End) {
	e.mu.Lock()
	rec := e.acceptedLocked(peerID, end.FileID)
	if rec == nil {
		e.mu.Unlock()
		e.logger.Debug("dropping end for unknown transfer", "file_id", end.FileID)
		return
	}
	rec.chunksExpected = end.TotalChunks
	rec.digest = end.Digest
	complete := rec.chunksReceived == rec.chunksExpected
	if complete {
		rec.finalized = true
	}
	e.mu.Unlock()

	if complete {
		go e.finalize(rec)
	}
}

func (e *Engine) handleCancelUpload(peerID, fileID string) {
	e.mu.Lock()
	rec := e.lookupLocked(peerID, fileID, Inbound)
	if rec == nil || rec.finalized {
		e.mu.Unlock()
		return
	}
	notify := rec.state != StateHandshaking
	result := e.purgeLocked(rec, StateCancelled, ErrCancelled)
	e.mu.Unlock()

	e.logger.Info("sender cancelled upload", "file_id", fileID, "device_id", peerID)
	e.deleteStored(rec)
	if notify {
		e.report(result)
	}
}

// purgeLocked ends an inbound transfer that never finalized: buffered
// chunks are dropped and the record forgotten. Stored chunks are
// removed separately by deleteStored, outside the lock.
func (e *Engine) purgeLocked(rec *record, state State, err error) *Result {
	e.moveLocked(rec, state)
	rec.finalized = true
	rec.chunks = nil
	rec.seen = nil
	delete(e.records, rec.fileID)
	return &Result{Transfer: rec.snapshot(), Err: err}
}

func (e *Engine) deleteStored(rec *record) {
	if rec.strategy != Large {
		return
	}
	if err := e.config.Store.Delete(context.Background(), rec.fileID); err != nil {
		e.logger.Error("deleting stored chunks failed", "file_id", rec.fileID, "error", err)
	}
}

// finalize reassembles, verifies and publishes a complete inbound
// transfer. It runs once per transfer; the finalized flag set under
// the lock guarantees that.
func (e *Engine) finalize(rec *record) {
	e.mu.Lock()
	chunks := rec.chunks
	rec.chunks = nil
	total := rec.chunksExpected
	digest := rec.digest
	e.mu.Unlock()

	path, err := e.assemble(rec, chunks, total, digest)

	e.mu.Lock()
	state := StateCompleted
	if err != nil {
		state = StateFailed
	}
	e.moveLocked(rec, state)
	var progress *Progress
	if err == nil {
		progress = e.sampleLocked(rec, 1, true)
	}
	delete(e.records, rec.fileID)
	result := &Result{Transfer: rec.snapshot(), Path: path, Err: err}
	e.mu.Unlock()

	e.deleteStored(rec)
	if err != nil {
		e.logger.Error("transfer failed", "file_id", rec.fileID, "device_id", rec.peerID, "error", err)
	} else {
		e.logger.Info("transfer received", "file_id", rec.fileID, "device_id", rec.peerID, "path", path)
	}
	e.emitProgress(progress)
	e.report(result)
}

func (e *Engine) assemble(rec *record, chunks map[int][]byte, total int, digest []byte) (string, error) {
	ctx := context.Background()

	var source io.Reader
	if rec.strategy == Small {
		numbers := make([]int, 0, len(chunks))
		for number := range chunks {
			numbers = append(numbers, number)
		}
		slices.Sort(numbers)
		var block bytes.Buffer
		for i, number := range numbers {
			if number != i {
				return "", fmt.Errorf("%w: chunk %d missing", ErrCorrupt, i)
			}
			block.Write(chunks[number])
		}
		data, err := compress.DecompressBlock(block.Bytes(), int(rec.size))
		if err != nil {
			return "", err
		}
		source = bytes.NewReader(data)
	} else {
		stream, err := compress.NewStreamReader(chunkstore.NewReader(ctx, e.config.Store, rec.fileID, total))
		if err != nil {
			return "", err
		}
		defer stream.Close()
		source = stream
	}

	file, err := e.config.Sink.Create(rec.name, rec.size)
	if err != nil {
		return "", err
	}
	hasher := blake3.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), source)
	if err != nil {
		file.Abort()
		return "", fmt.Errorf("writing %s: %w", rec.name, err)
	}
	if written != rec.size {
		file.Abort()
		return "", fmt.Errorf("%w: got %d bytes, expected %d", ErrCorrupt, written, rec.size)
	}
	if len(digest) > 0 && !bytes.Equal(hasher.Sum(nil), digest) {
		file.Abort()
		return "", fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	return file.Commit()
}
