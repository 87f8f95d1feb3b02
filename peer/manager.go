// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/transport"
)

var (
	// ErrNoChannels is returned when every channel of a peer is
	// closed.
	ErrNoChannels = errors.New("all channels closed")

	// ErrNotConnected is returned for a device with no link.
	ErrNotConnected = errors.New("peer not connected")

	// ErrLinkLost is reported to Events.Closed when a link
	// terminates abnormally.
	ErrLinkLost = errors.New("peer link lost")

	// ErrDisconnected is reported to Events.Closed after an explicit
	// Disconnect or Close.
	ErrDisconnected = errors.New("peer disconnected")
)

const labelPrefix = "data-"

// Signaler delivers negotiation messages to a remote device.
type Signaler interface {
	SendSignal(ctx context.Context, remoteID string, signal transport.Signal) error
}

// Events receives peer notifications. Callbacks run on link event
// goroutines (or the caller of Disconnect/Close) without the manager's
// lock held. Nil fields are ignored.
type Events struct {
	// Ready reports that a device has its first open channel.
	Ready func(remoteID string)

	// Message delivers an inbound message from a device.
	Message func(remoteID string, message transport.Message)

	// Closed reports teardown of a device's link. Everything the
	// caller keeps for the device must be discarded.
	Closed func(remoteID string, err error)
}

// Config holds Manager settings. Zero fields take defaults.
type Config struct {
	// LocalID is this device's ID. It breaks ties when both sides
	// offer at once.
	LocalID string

	// PoolSize is the number of channels per link. Default 4.
	PoolSize int

	// HighWaterMark is the buffered byte count above which
	// SendChunk waits. Default 1 MiB.
	HighWaterMark uint64

	// PollInterval is the backpressure poll period. Default 20ms.
	PollInterval time.Duration

	// MaxReconnects is the number of automatic renegotiations after
	// consecutive abnormal terminations. Default 3.
	MaxReconnects int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.HighWaterMark == 0 {
		c.HighWaterMark = 1 << 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Millisecond
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 3
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ChannelHandle names one slot of one device's channel pool.
type ChannelHandle struct {
	DeviceID string
	Slot     int
}

// Manager owns the links to remote devices.
type Manager struct {
	config   Config
	factory  transport.Factory
	signaler Signaler
	events   Events
	logger   *slog.Logger

	mu         sync.Mutex
	links      map[string]*peerLink
	requested  map[string]bool
	reconnects map[string]int
	generation uint64
	closed     bool
}

// peerLink is one incarnation of a link to a device. Fields are
// guarded by Manager.mu.
type peerLink struct {
	remoteID   string
	generation uint64
	link       transport.Link
	initiator  bool
	state      State
	slots      []transport.Channel
	next       uint64

	// ready closes on the first open channel; done closes on teardown.
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewManager returns a Manager creating links through factory and
// negotiating them through signaler.
func NewManager(config Config, factory transport.Factory, signaler Signaler, events Events) *Manager {
	config.setDefaults()
	return &Manager{
		config:     config,
		factory:    factory,
		signaler:   signaler,
		events:     events,
		logger:     config.Logger,
		links:      make(map[string]*peerLink),
		requested:  make(map[string]bool),
		reconnects: make(map[string]int),
	}
}

// Connect ensures a link to remoteID exists, negotiating one as
// initiator if needed. It resets the device's reconnect counter.
func (m *Manager) Connect(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrClosed
	}
	m.requested[remoteID] = true
	m.reconnects[remoteID] = 0

	if existing := m.links[remoteID]; existing != nil {
		return nil
	}
	return m.startLocked(ctx, remoteID)
}

// startLocked creates an initiator link with a full channel pool and
// sends the offer.
func (m *Manager) startLocked(ctx context.Context, remoteID string) error {
	pl, err := m.newLinkLocked(remoteID, true)
	if err != nil {
		return err
	}
	for slot := range m.config.PoolSize {
		if err := pl.link.CreateChannel(labelPrefix + strconv.Itoa(slot)); err != nil {
			m.dropLocked(pl)
			return fmt.Errorf("opening channel %d to %s: %w", slot, remoteID, err)
		}
	}
	pl.state = StateNegotiating
	if err := pl.link.Offer(ctx); err != nil {
		m.dropLocked(pl)
		return fmt.Errorf("offering to %s: %w", remoteID, err)
	}
	m.logger.Info("negotiating peer link", "device_id", remoteID)
	return nil
}

func (m *Manager) newLinkLocked(remoteID string, initiator bool) (*peerLink, error) {
	m.generation++
	pl := &peerLink{
		remoteID:   remoteID,
		generation: m.generation,
		initiator:  initiator,
		state:      StateIdle,
		slots:      make([]transport.Channel, m.config.PoolSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	link, err := m.factory.NewLink(remoteID, m.handlerFor(pl))
	if err != nil {
		return nil, fmt.Errorf("creating link to %s: %w", remoteID, err)
	}
	pl.link = link
	m.links[remoteID] = pl
	return pl, nil
}

// dropLocked removes pl from the arena and closes its link. It does
// not notify Events.
func (m *Manager) dropLocked(pl *peerLink) {
	if m.links[pl.remoteID] == pl {
		delete(m.links, pl.remoteID)
	}
	select {
	case <-pl.done:
		return
	default:
		close(pl.done)
	}
	pl.state = StateClosed
	for i := range pl.slots {
		pl.slots[i] = nil
	}
	pl.link.Close()
}

// currentLocked reports whether pl is still the live incarnation for
// its device.
func (m *Manager) currentLocked(pl *peerLink) bool {
	return m.links[pl.remoteID] == pl
}

func (m *Manager) handlerFor(pl *peerLink) transport.Handler {
	return transport.Handler{
		Signal: func(signal transport.Signal) {
			// Signals from a superseded link are harmless to the
			// remote side and are sent regardless.
			if err := m.signaler.SendSignal(context.Background(), pl.remoteID, signal); err != nil {
				m.logger.Warn("sending peer signal failed",
					"device_id", pl.remoteID,
					"kind", signal.Kind,
					"error", err,
				)
			}
		},
		StateChange: func(state transport.State) {
			m.handleState(pl, state)
		},
		ChannelOpen: func(channel transport.Channel) {
			m.handleChannelOpen(pl, channel)
		},
		ChannelClosed: func(channel transport.Channel) {
			m.handleChannelClosed(pl, channel)
		},
		Message: func(channel transport.Channel, message transport.Message) {
			m.mu.Lock()
			live := m.currentLocked(pl)
			m.mu.Unlock()
			if live && m.events.Message != nil {
				m.events.Message(pl.remoteID, message)
			}
		},
	}
}

func (m *Manager) handleState(pl *peerLink, state transport.State) {
	m.mu.Lock()
	if !m.currentLocked(pl) {
		m.mu.Unlock()
		return
	}
	m.logger.Debug("peer link state", "device_id", pl.remoteID, "state", state)

	switch state {
	case transport.StateNew:
		m.mu.Unlock()
	case transport.StateConnecting:
		pl.state = StateNegotiating
		m.mu.Unlock()
	case transport.StateConnected:
		pl.state = StateConnected
		m.reconnects[pl.remoteID] = 0
		m.mu.Unlock()
	case transport.StateDisconnected:
		m.terminateLocked(pl, StateDisconnected)
	case transport.StateFailed:
		m.terminateLocked(pl, StateFailed)
	case transport.StateClosed:
		m.terminateLocked(pl, StateClosed)
	default:
		m.mu.Unlock()
		m.logger.Warn("ignoring unknown link state", "device_id", pl.remoteID, "state", state)
	}
}

// terminateLocked tears pl down after an abnormal termination and
// decides whether to renegotiate. It releases m.mu.
func (m *Manager) terminateLocked(pl *peerLink, state State) {
	remoteID := pl.remoteID
	m.dropLocked(pl)
	pl.state = state

	m.reconnects[remoteID]++
	count := m.reconnects[remoteID]
	retry := m.requested[remoteID] && count <= m.config.MaxReconnects && !m.closed

	var retryErr error
	if retry {
		m.logger.Info("peer link lost, renegotiating",
			"device_id", remoteID,
			"state", state,
			"attempt", count,
		)
		retryErr = m.startLocked(context.Background(), remoteID)
	} else if m.requested[remoteID] {
		m.logger.Warn("peer link lost, giving up",
			"device_id", remoteID,
			"state", state,
			"failures", count,
		)
		delete(m.requested, remoteID)
	}
	m.mu.Unlock()

	if retryErr != nil {
		m.logger.Error("renegotiating peer link failed", "device_id", remoteID, "error", retryErr)
	}
	if m.events.Closed != nil {
		m.events.Closed(remoteID, fmt.Errorf("%w: %s", ErrLinkLost, state))
	}
}

func parseSlot(label string) (int, bool) {
	rest, ok := strings.CutPrefix(label, labelPrefix)
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(rest)
	if err != nil || slot < 0 {
		return 0, false
	}
	return slot, true
}

func (m *Manager) handleChannelOpen(pl *peerLink, channel transport.Channel) {
	m.mu.Lock()
	if !m.currentLocked(pl) {
		m.mu.Unlock()
		return
	}
	slot, ok := parseSlot(channel.Label())
	if !ok || slot >= len(pl.slots) {
		m.mu.Unlock()
		m.logger.Warn("closing channel outside the pool",
			"device_id", pl.remoteID,
			"label", channel.Label(),
		)
		channel.Close()
		return
	}
	pl.slots[slot] = channel
	first := false
	pl.readyOnce.Do(func() {
		close(pl.ready)
		first = true
	})
	m.mu.Unlock()

	if first {
		m.logger.Info("peer link ready", "device_id", pl.remoteID, "initiator", pl.initiator)
		if m.events.Ready != nil {
			m.events.Ready(pl.remoteID)
		}
	}
}

// handleChannelClosed treats the loss of any pool channel as loss of
// the link.
func (m *Manager) handleChannelClosed(pl *peerLink, channel transport.Channel) {
	m.mu.Lock()
	if !m.currentLocked(pl) {
		m.mu.Unlock()
		return
	}
	slot, ok := parseSlot(channel.Label())
	if !ok || slot >= len(pl.slots) || pl.slots[slot] != channel {
		m.mu.Unlock()
		return
	}
	m.terminateLocked(pl, StateDisconnected)
}

// HandleSignal applies a negotiation message from remoteID. An offer
// for a device without a live link creates a responder link.
func (m *Manager) HandleSignal(ctx context.Context, remoteID string, signal transport.Signal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return transport.ErrClosed
	}
	pl := m.links[remoteID]
	var replaced bool

	if signal.Kind == transport.SignalOffer {
		if pl != nil && pl.initiator && pl.state == StateNegotiating && m.config.LocalID < remoteID {
			// Both sides offered. The lower ID keeps its offer.
			m.mu.Unlock()
			m.logger.Debug("ignoring competing offer", "device_id", remoteID)
			return nil
		}
		if pl != nil {
			m.dropLocked(pl)
			replaced = true
		}
		var err error
		pl, err = m.newLinkLocked(remoteID, false)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		pl.state = StateNegotiating
		m.logger.Info("answering peer offer", "device_id", remoteID)
	}
	m.mu.Unlock()

	if replaced && m.events.Closed != nil {
		m.events.Closed(remoteID, fmt.Errorf("%w: superseded by new offer", ErrLinkLost))
	}

	if pl == nil {
		m.logger.Debug("dropping signal for unknown peer", "device_id", remoteID, "kind", signal.Kind)
		return nil
	}
	if err := pl.link.HandleSignal(ctx, signal); err != nil {
		return fmt.Errorf("applying %s from %s: %w", signal.Kind, remoteID, err)
	}
	return nil
}

// WaitReady blocks until remoteID's link has an open channel.
func (m *Manager) WaitReady(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	pl := m.links[remoteID]
	m.mu.Unlock()
	if pl == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, remoteID)
	}
	select {
	case <-pl.ready:
		return nil
	case <-pl.done:
		return fmt.Errorf("%w: %s", ErrLinkLost, remoteID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears down remoteID's link and forgets the device.
func (m *Manager) Disconnect(remoteID string) {
	m.mu.Lock()
	delete(m.requested, remoteID)
	pl := m.links[remoteID]
	if pl != nil {
		m.dropLocked(pl)
	}
	m.mu.Unlock()

	if pl == nil {
		return
	}
	m.logger.Info("peer disconnected", "device_id", remoteID)
	if m.events.Closed != nil {
		m.events.Closed(remoteID, ErrDisconnected)
	}
}

// State reports the state of remoteID's link.
func (m *Manager) State(remoteID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pl := m.links[remoteID]; pl != nil {
		return pl.state
	}
	return StateIdle
}

// Peers lists devices with a live link.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]string, 0, len(m.links))
	for remoteID := range m.links {
		peers = append(peers, remoteID)
	}
	return peers
}

// Close tears down every link. The Manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	var dropped []string
	for remoteID, pl := range m.links {
		m.dropLocked(pl)
		dropped = append(dropped, remoteID)
	}
	clear(m.requested)
	m.mu.Unlock()

	if m.events.Closed != nil {
		for _, remoteID := range dropped {
			m.events.Closed(remoteID, ErrDisconnected)
		}
	}
	return nil
}
