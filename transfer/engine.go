// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/lib/chunkstore"
	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/compress"
	"github.com/peerdrop/peerdrop/lib/schema/frame"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/peer"
	"github.com/peerdrop/peerdrop/transport"
)

var (
	// ErrRejected is returned by Send when the receiver declines.
	ErrRejected = errors.New("rejected by peer")

	// ErrCancelled is returned when either side cancels a transfer.
	ErrCancelled = errors.New("cancelled")

	// ErrCorrupt reports received data that failed to decompress or
	// to match its digest.
	ErrCorrupt = compress.ErrCorrupt

	// ErrUnknownTransfer is returned for a file ID with no live
	// transfer.
	ErrUnknownTransfer = errors.New("unknown transfer")

	// ErrInvalidState is returned for an operation the transfer's
	// state does not allow.
	ErrInvalidState = errors.New("invalid transfer state")
)

// DefaultSmallThreshold is the size below which files take the small
// path.
const DefaultSmallThreshold = 10 * 1000 * 1000

// Peers is the part of the peer manager the engine sends through.
type Peers interface {
	Send(remoteID string, message transport.Message) error
	Next(remoteID string) (peer.ChannelHandle, error)
	SendChunk(ctx context.Context, handle peer.ChannelHandle, data []byte) error
}

// Offer is an inbound transfer awaiting a decision.
type Offer struct {
	PeerID string
	FileID string
	Name   string
	Mime   string
	Size   int64
}

// Progress is a monotonic progress sample in [0, 1].
type Progress struct {
	PeerID    string
	FileID    string
	Direction Direction
	Fraction  float64
}

// Result reports the end of an inbound transfer. Path is set on
// success.
type Result struct {
	Transfer Transfer
	Path     string
	Err      error
}

// Events receives engine notifications. Callbacks run without the
// engine's lock held. Nil fields are ignored.
type Events struct {
	// Offer asks for a decision on an inbound transfer; answer with
	// Accept or Reject.
	Offer func(Offer)

	Progress func(Progress)

	// Received reports every inbound transfer that reached a
	// terminal state after being accepted.
	Received func(Result)
}

// Transfer is a snapshot of one transfer.
type Transfer struct {
	FileID         string
	PeerID         string
	Direction      Direction
	Name           string
	Mime           string
	Size           int64
	Strategy       Strategy
	State          State
	ChunksExpected int
	ChunksReceived int
	BytesMoved     int64
	Progress       float64
}

// Config holds Engine settings. Zero fields take defaults.
type Config struct {
	// Store persists large-path chunks. Default: in memory.
	Store chunkstore.Store

	// Sink receives completed files. Required to receive.
	Sink Sink

	// SmallThreshold is the size at or above which files take the
	// large path. Default DefaultSmallThreshold.
	SmallThreshold int64

	// ChunkSize is the compressed payload per chunk frame. Default
	// frame.MaxChunkData.
	ChunkSize int

	// PausePoll is how often a paused sender rechecks. Default 250ms.
	PausePoll time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Store == nil {
		c.Store = chunkstore.NewMemory()
	}
	if c.SmallThreshold <= 0 {
		c.SmallThreshold = DefaultSmallThreshold
	}
	if c.ChunkSize <= 0 || c.ChunkSize > frame.MaxChunkData {
		c.ChunkSize = frame.MaxChunkData
	}
	if c.PausePoll <= 0 {
		c.PausePoll = 250 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Engine runs transfers in both directions for every peer.
type Engine struct {
	config Config
	peers  Peers
	events Events
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*record
}

// record is the engine's state for one transfer. Fields are guarded
// by Engine.mu.
type record struct {
	fileID    string
	peerID    string
	direction Direction
	name      string
	mime      string
	size      int64
	strategy  Strategy
	state     State

	chunksExpected int
	chunksReceived int
	bytesMoved     int64
	progress       float64
	samples        int

	// Outbound.
	decision chan bool
	paused   bool
	err      error
	notify   bool
	done     chan struct{}

	// Inbound.
	chunks    map[int][]byte
	seen      map[int]struct{}
	digest    []byte
	finalized bool
}

// NewEngine returns an engine sending through peers.
func NewEngine(config Config, peers Peers, events Events) *Engine {
	config.setDefaults()
	return &Engine{
		config:  config,
		peers:   peers,
		events:  events,
		logger:  config.Logger,
		records: make(map[string]*record),
	}
}

func (e *Engine) strategyFor(size int64) Strategy {
	if size >= e.config.SmallThreshold {
		return Large
	}
	return Small
}

// PurgeOrphans deletes chunks left in the store by transfers that did
// not survive a restart. Call it before the first transfer.
func (e *Engine) PurgeOrphans(ctx context.Context) (int, error) {
	fileIDs, err := e.config.Store.FileIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stored transfers: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	purged := 0
	for _, fileID := range fileIDs {
		if _, live := e.records[fileID]; live {
			continue
		}
		if err := e.config.Store.Delete(ctx, fileID); err != nil {
			return purged, fmt.Errorf("purging chunks of %s: %w", fileID, err)
		}
		purged++
	}
	if purged > 0 {
		e.logger.Info("purged orphaned chunks", "transfers", purged)
	}
	return purged, nil
}

// moveLocked applies a state transition, reporting whether it was
// legal.
func (e *Engine) moveLocked(rec *record, to State) bool {
	if rec.state == to {
		return true
	}
	if !canMove(rec.state, to) {
		e.logger.Debug("ignoring transfer transition",
			"file_id", rec.fileID,
			"from", rec.state,
			"to", to,
		)
		return false
	}
	rec.state = to
	return true
}

// sampleLocked records a progress sample and returns the event to
// emit, if any. Progress never decreases; only completion reports 1.
func (e *Engine) sampleLocked(rec *record, fraction float64, force bool) *Progress {
	if !force {
		rec.samples++
		if rec.samples%rec.strategy.progressInterval() != 0 {
			return nil
		}
		fraction = min(fraction, 0.99)
	}
	if fraction <= rec.progress {
		return nil
	}
	rec.progress = fraction
	return &Progress{PeerID: rec.peerID, FileID: rec.fileID, Direction: rec.direction, Fraction: fraction}
}

func (e *Engine) emitProgress(p *Progress) {
	if p != nil && e.events.Progress != nil {
		e.events.Progress(*p)
	}
}

func (r *record) snapshot() Transfer {
	return Transfer{
		FileID:         r.fileID,
		PeerID:         r.peerID,
		Direction:      r.direction,
		Name:           r.name,
		Mime:           r.mime,
		Size:           r.size,
		Strategy:       r.strategy,
		State:          r.state,
		ChunksExpected: r.chunksExpected,
		ChunksReceived: r.chunksReceived,
		BytesMoved:     r.bytesMoved,
		Progress:       r.progress,
	}
}

// Transfers lists live transfers.
func (e *Engine) Transfers() []Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	transfers := make([]Transfer, 0, len(e.records))
	for _, rec := range e.records {
		transfers = append(transfers, rec.snapshot())
	}
	return transfers
}

// Lookup returns a snapshot of one live transfer.
func (e *Engine) Lookup(fileID string) (Transfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[fileID]
	if !ok {
		return Transfer{}, false
	}
	return rec.snapshot(), true
}

// HandleMessage processes a message from peerID's link.
func (e *Engine) HandleMessage(peerID string, message transport.Message) {
	if message.Text {
		e.handleControl(peerID, message.Data)
		return
	}
	decoded, err := frame.Decode(message.Data)
	if err != nil {
		e.logger.Warn("dropping undecodable frame", "device_id", peerID, "error", err)
		return
	}
	e.handleFrame(peerID, decoded)
}

func (e *Engine) handleControl(peerID string, data []byte) {
	message, requestID, err := signal.Decode(data)
	if err != nil {
		e.logger.Warn("dropping malformed control message", "device_id", peerID, "error", err)
		return
	}
	switch message := message.(type) {
	case *signal.FileOffer:
		e.handleOffer(peerID, message, requestID)
	case *signal.FileAccept:
		e.handleDecision(peerID, message.FileID, true)
	case *signal.FileReject:
		e.handleDecision(peerID, message.FileID, false)
	default:
		e.logger.Warn("dropping unexpected control message", "device_id", peerID, "type", message.Type())
	}
}

func (e *Engine) handleFrame(peerID string, decoded frame.Frame) {
	switch decoded := decoded.(type) {
	case *frame.Metadata:
		e.handleMetadata(peerID, decoded)
	case *frame.Chunk:
		e.handleChunk(peerID, decoded)
	case *frame.End:
		e.handleEnd(peerID, decoded)
	case *frame.Pause:
		e.setPaused(peerID, decoded.FileID, true)
	case *frame.Resume:
		e.setPaused(peerID, decoded.FileID, false)
	case *frame.Cancel:
		e.handleRemoteCancel(peerID, decoded.FileID)
	case *frame.CancelUpload:
		e.handleCancelUpload(peerID, decoded.FileID)
	default:
		e.logger.Warn("dropping unexpected frame", "device_id", peerID, "kind", decoded.Kind())
	}
}

// lookupLocked returns the record for fileID if it belongs to peerID
// and runs in direction.
func (e *Engine) lookupLocked(peerID, fileID string, direction Direction) *record {
	rec := e.records[fileID]
	if rec == nil || rec.peerID != peerID || rec.direction != direction {
		return nil
	}
	return rec
}

func (e *Engine) sendFrame(peerID string, f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	return e.peers.Send(peerID, transport.Message{Data: data})
}

func (e *Engine) sendControl(peerID string, message signal.Message, requestID string) error {
	data, err := signal.Encode(message, requestID)
	if err != nil {
		return err
	}
	return e.peers.Send(peerID, transport.Message{Data: data, Text: true})
}

// Pause holds a transfer. For an inbound transfer the sender is asked
// to stop before its next chunk; an outbound transfer stops locally.
func (e *Engine) Pause(fileID string) error { return e.setLocalPause(fileID, true) }

// Resume releases Pause.
func (e *Engine) Resume(fileID string) error { return e.setLocalPause(fileID, false) }

func (e *Engine) setLocalPause(fileID string, paused bool) error {
	e.mu.Lock()
	rec := e.records[fileID]
	if rec == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	target := StateTransferring
	if paused {
		target = StatePaused
	}
	if !e.moveLocked(rec, target) {
		state := rec.state
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot move %s transfer to %s", ErrInvalidState, state, target)
	}
	peerID, direction := rec.peerID, rec.direction
	if direction == Outbound {
		rec.paused = paused
	}
	e.mu.Unlock()

	if direction == Outbound {
		return nil
	}
	var f frame.Frame = &frame.Resume{FileID: fileID}
	if paused {
		f = &frame.Pause{FileID: fileID}
	}
	return e.sendFrame(peerID, f)
}

// setPaused applies a peer's pause or resume to an outbound transfer.
func (e *Engine) setPaused(peerID, fileID string, paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.lookupLocked(peerID, fileID, Outbound)
	if rec == nil {
		return
	}
	target := StateTransferring
	if paused {
		target = StatePaused
	}
	if e.moveLocked(rec, target) {
		rec.paused = paused
		e.logger.Info("transfer pause changed by peer", "file_id", fileID, "paused", paused)
	}
}

// Cancel aborts a transfer from this side. An inbound transfer is
// purged and the sender told (file-cancel); an outbound transfer is
// abandoned and the receiver told (cancel-upload).
func (e *Engine) Cancel(fileID string) error {
	e.mu.Lock()
	rec := e.records[fileID]
	if rec == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if rec.direction == Outbound {
		e.abortLocked(rec, ErrCancelled, true)
		e.mu.Unlock()
		return nil
	}
	if rec.finalized {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is already complete", ErrInvalidState, fileID)
	}
	peerID := rec.peerID
	result := e.purgeLocked(rec, StateCancelled, ErrCancelled)
	e.mu.Unlock()

	e.deleteStored(rec)
	e.report(result)
	return e.sendFrame(peerID, &frame.Cancel{FileID: fileID})
}

// abortLocked stops an outbound transfer at its next poll. notify
// asks the send loop to tell the receiver.
func (e *Engine) abortLocked(rec *record, err error, notify bool) {
	if rec.err != nil {
		return
	}
	rec.err = err
	rec.notify = notify
	close(rec.done)
}

func (e *Engine) handleRemoteCancel(peerID, fileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.lookupLocked(peerID, fileID, Outbound)
	if rec == nil {
		return
	}
	e.logger.Info("receiver cancelled transfer", "file_id", fileID, "device_id", peerID)
	e.abortLocked(rec, ErrCancelled, false)
}

// PeerClosed aborts and purges every transfer with peerID.
func (e *Engine) PeerClosed(peerID string, cause error) {
	e.mu.Lock()
	var results []*Result
	var purged []*record
	for _, rec := range e.records {
		if rec.peerID != peerID {
			continue
		}
		err := fmt.Errorf("peer %s: %w", peerID, cause)
		if rec.direction == Outbound {
			e.abortLocked(rec, err, false)
			continue
		}
		if rec.finalized {
			continue
		}
		results = append(results, e.purgeLocked(rec, StateFailed, err))
		purged = append(purged, rec)
	}
	e.mu.Unlock()

	for _, rec := range purged {
		e.deleteStored(rec)
	}
	for _, result := range results {
		e.report(result)
	}
	if len(purged) > 0 {
		e.logger.Info("purged transfers of closed peer", "device_id", peerID, "transfers", len(purged))
	}
}

func (e *Engine) report(result *Result) {
	if result != nil && e.events.Received != nil {
		e.events.Received(*result)
	}
}
