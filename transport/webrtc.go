// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// WebRTC creates links backed by pion PeerConnections. Channels are
// ordered, reliable SCTP data channels; ICE candidates are trickled
// through Handler.Signal as they are gathered.
type WebRTC struct {
	iceServers []webrtc.ICEServer
	api        *webrtc.API
	logger     *slog.Logger
}

// NewWebRTC returns a factory using the given STUN/TURN URLs. With no
// URLs only host candidates are gathered, which is enough on one
// machine or one LAN.
func NewWebRTC(iceURLs []string, logger *slog.Logger) *WebRTC {
	var servers []webrtc.ICEServer
	if len(iceURLs) > 0 {
		servers = []webrtc.ICEServer{{URLs: iceURLs}}
	}

	// Loopback candidates make same-machine links and tests work when
	// loopback is the only interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &WebRTC{
		iceServers: servers,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger:     logger,
	}
}

// NewLink creates an unnegotiated PeerConnection to remoteID.
func (w *WebRTC) NewLink(remoteID string, handler Handler) (Link, error) {
	pc, err := w.api.NewPeerConnection(webrtc.Configuration{ICEServers: w.iceServers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection to %s: %w", remoteID, err)
	}

	link := &webrtcLink{
		remoteID:   remoteID,
		connection: pc,
		handler:    handler,
		events:     newEventQueue(),
		channels:   make(map[*webrtc.DataChannel]*webrtcChannel),
		logger:     w.logger.With("remote", remoteID),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		link.emitSignal(Signal{
			Kind: SignalCandidate,
			Candidate: &Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			},
		})
	})
	pc.OnConnectionStateChange(link.handleConnectionState)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link.logger.Debug("remote opened data channel", "label", dc.Label())
		link.attach(dc)
	})

	return link, nil
}

type webrtcLink struct {
	remoteID   string
	connection *webrtc.PeerConnection
	handler    Handler
	events     *eventQueue
	logger     *slog.Logger

	mu                sync.Mutex
	channels          map[*webrtc.DataChannel]*webrtcChannel
	remoteDescribed   bool
	pendingCandidates []webrtc.ICECandidateInit
	closed            bool
}

func (l *webrtcLink) emitSignal(signal Signal) {
	if l.handler.Signal == nil {
		return
	}
	l.events.push(func() { l.handler.Signal(signal) })
}

func (l *webrtcLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Info("peer connection state change", "state", state.String())

	var mapped State
	switch state {
	case webrtc.PeerConnectionStateNew:
		mapped = StateNew
	case webrtc.PeerConnectionStateConnecting:
		mapped = StateConnecting
	case webrtc.PeerConnectionStateConnected:
		mapped = StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		mapped = StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		mapped = StateFailed
	case webrtc.PeerConnectionStateClosed:
		mapped = StateClosed
	default:
		return
	}
	if l.handler.StateChange != nil {
		l.events.push(func() { l.handler.StateChange(mapped) })
	}
}

// attach wraps a data channel and wires its callbacks into the event
// queue.
func (l *webrtcLink) attach(dc *webrtc.DataChannel) *webrtcChannel {
	channel := &webrtcChannel{dc: dc}

	l.mu.Lock()
	l.channels[dc] = channel
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.logger.Debug("data channel opened", "label", dc.Label())
		if l.handler.ChannelOpen != nil {
			l.events.push(func() { l.handler.ChannelOpen(channel) })
		}
	})
	dc.OnClose(func() {
		l.mu.Lock()
		delete(l.channels, dc)
		l.mu.Unlock()
		if l.handler.ChannelClosed != nil {
			l.events.push(func() { l.handler.ChannelClosed(channel) })
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.handler.Message == nil {
			return
		}
		message := Message{Data: msg.Data, Text: msg.IsString}
		l.events.push(func() { l.handler.Message(channel, message) })
	})
	return channel
}

func (l *webrtcLink) CreateChannel(label string) error {
	if l.isClosed() {
		return ErrClosed
	}
	ordered := true
	dc, err := l.connection.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("creating data channel %s: %w", label, err)
	}
	l.attach(dc)
	return nil
}

func (l *webrtcLink) Offer(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}
	offer, err := l.connection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	// Queue the offer ahead of any candidate gathered once the local
	// description is set.
	l.emitSignal(Signal{Kind: SignalOffer, SDP: offer.SDP})
	if err := l.connection.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer: %w", err)
	}
	return ctx.Err()
}

func (l *webrtcLink) HandleSignal(ctx context.Context, signal Signal) error {
	if l.isClosed() {
		return ErrClosed
	}
	switch signal.Kind {
	case SignalOffer:
		if err := l.setRemote(webrtc.SDPTypeOffer, signal.SDP); err != nil {
			return err
		}
		answer, err := l.connection.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("creating answer: %w", err)
		}
		l.emitSignal(Signal{Kind: SignalAnswer, SDP: answer.SDP})
		if err := l.connection.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("setting local answer: %w", err)
		}
		return ctx.Err()

	case SignalAnswer:
		return l.setRemote(webrtc.SDPTypeAnswer, signal.SDP)

	case SignalCandidate:
		if signal.Candidate == nil {
			return fmt.Errorf("candidate signal without candidate")
		}
		init := webrtc.ICECandidateInit{
			Candidate:     signal.Candidate.Candidate,
			SDPMid:        signal.Candidate.SDPMid,
			SDPMLineIndex: signal.Candidate.SDPMLineIndex,
		}
		l.mu.Lock()
		if !l.remoteDescribed {
			l.pendingCandidates = append(l.pendingCandidates, init)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.connection.AddICECandidate(init); err != nil {
			return fmt.Errorf("adding candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown signal kind %q", signal.Kind)
	}
}

// setRemote applies the remote description and flushes candidates
// that arrived before it.
func (l *webrtcLink) setRemote(kind webrtc.SDPType, sdp string) error {
	err := l.connection.SetRemoteDescription(webrtc.SessionDescription{Type: kind, SDP: sdp})
	if err != nil {
		return fmt.Errorf("setting remote %s: %w", kind, err)
	}

	l.mu.Lock()
	l.remoteDescribed = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	l.mu.Unlock()

	for _, candidate := range pending {
		if err := l.connection.AddICECandidate(candidate); err != nil {
			l.logger.Warn("dropping queued candidate", "error", err)
		}
	}
	return nil
}

func (l *webrtcLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *webrtcLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.events.close()
	return l.connection.Close()
}

type webrtcChannel struct {
	dc *webrtc.DataChannel
}

func (c *webrtcChannel) Label() string { return c.dc.Label() }

func (c *webrtcChannel) Open() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *webrtcChannel) Send(data []byte) error { return c.dc.Send(data) }

func (c *webrtcChannel) SendText(text string) error { return c.dc.SendText(text) }

func (c *webrtcChannel) BufferedAmount() uint64 { return c.dc.BufferedAmount() }

func (c *webrtcChannel) Close() error { return c.dc.Close() }
