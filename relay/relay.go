// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/netutil"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/wsconn"
)

// Config holds Relay settings.
type Config struct {
	// Secret must match the secret every edge presents. Required.
	Secret string

	// AuthTimeout bounds how long an edge link may stay
	// unauthenticated. Default 5s.
	AuthTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

type eventKind int

const (
	eventJoined eventKind = iota
	eventMessage
	eventLeft
)

type event struct {
	kind      eventKind
	edge      *edgeSession
	message   signal.Message
	requestID string
}

// edgeSender is the outbound half of an edge link, as the actor sees
// it. *wsconn.Conn implements it.
type edgeSender interface {
	Send(data []byte) error
	CloseWith(code int, reason string)
}

type edgeSession struct {
	id     uint64
	name   string
	conn   *wsconn.Conn
	out    edgeSender
	logger *slog.Logger
}

// Relay is the central relay server. Serve edges with ServeHTTP and
// run the roster actor with Run.
type Relay struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader

	nextID  atomic.Uint64
	events  chan event
	stopped chan struct{}

	// Owned by the Run goroutine.
	edges  map[uint64]*edgeSession
	roster *roster
}

// New returns a Relay.
func New(config Config) (*Relay, error) {
	if config.Secret == "" {
		return nil, errors.New("relay: secret is required")
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		events:  make(chan event, 256),
		stopped: make(chan struct{}),
		edges:   make(map[uint64]*edgeSession),
		roster:  newRoster(),
	}, nil
}

// Run processes edge events until ctx is cancelled, then closes every
// edge link.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.stopped)
	r.logger.Info("relay running")
	for {
		select {
		case <-ctx.Done():
			for _, edge := range r.edges {
				edge.out.CloseWith(websocket.CloseGoingAway, "relay shutting down")
			}
			return nil
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

func (r *Relay) submit(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.stopped:
		return false
	}
}

// ServeHTTP upgrades an edge connection and serves it until it
// closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("edge upgrade failed", "error", err)
		return
	}
	id := r.nextID.Add(1)
	logger := r.logger.With("edge_conn", id, "user_agent", req.UserAgent())
	conn := wsconn.New(ws, logger)
	session := &edgeSession{id: id, conn: conn, out: conn, logger: logger}
	defer session.conn.Close()

	if !r.authenticate(session) {
		return
	}
	if !r.submit(event{kind: eventJoined, edge: session}) {
		return
	}
	r.readLoop(session)
	r.submit(event{kind: eventLeft, edge: session})
}

func (r *Relay) authenticate(session *edgeSession) bool {
	timer := r.clock.AfterFunc(r.config.AuthTimeout, func() {
		session.logger.Warn("edge did not authenticate in time")
		session.conn.CloseWith(websocket.ClosePolicyViolation, "authentication timeout")
	})
	raw, err := session.conn.Read()
	timer.Stop()
	if err != nil {
		return false
	}

	message, requestID, err := signal.Decode(raw)
	auth, ok := message.(*signal.Auth)
	if err != nil || !ok || auth.EdgeID == "" {
		session.logger.Warn("edge sent no edge auth", "error", err)
		session.conn.SendMessage(&signal.AuthResult{Error: "expected edge auth"}, requestID)
		session.conn.CloseWith(websocket.ClosePolicyViolation, "expected edge auth")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(auth.Secret), []byte(r.config.Secret)) != 1 {
		session.logger.Warn("edge presented a wrong secret", "edge_id", auth.EdgeID)
		session.conn.SendMessage(&signal.AuthResult{Error: "invalid credentials"}, requestID)
		session.conn.CloseWith(websocket.ClosePolicyViolation, "invalid credentials")
		return false
	}

	session.name = auth.EdgeID
	session.logger = session.logger.With("edge_id", auth.EdgeID)
	if err := session.conn.SendMessage(&signal.AuthResult{OK: true}, requestID); err != nil {
		return false
	}
	session.logger.Info("edge authenticated", "remote", session.conn.RemoteAddr(), "version", auth.Version)
	return true
}

func (r *Relay) readLoop(session *edgeSession) {
	for {
		raw, err := session.conn.Read()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				session.logger.Info("edge disconnected")
			} else {
				session.logger.Warn("edge read failed", "error", err)
			}
			return
		}
		message, requestID, err := signal.Decode(raw)
		if err != nil {
			session.logger.Warn("dropping undecodable edge message", "error", err)
			continue
		}
		if !r.submit(event{kind: eventMessage, edge: session, message: message, requestID: requestID}) {
			return
		}
	}
}

func (r *Relay) handle(ev event) {
	switch ev.kind {
	case eventJoined:
		r.edges[ev.edge.id] = ev.edge
	case eventLeft:
		delete(r.edges, ev.edge.id)
		purged := r.roster.dropEdge(ev.edge.id)
		for _, device := range purged {
			r.fanout(device.AccountID, &signal.Disconnection{
				AccountID:  device.AccountID,
				DeviceID:   device.DeviceID,
				DeviceName: device.DeviceName,
			})
		}
		ev.edge.logger.Info("edge removed", "purged_devices", len(purged))
	case eventMessage:
		r.route(ev)
	}
}

func (r *Relay) route(ev event) {
	logger := ev.edge.logger
	switch m := ev.message.(type) {
	case *signal.Connection:
		switch previous, change := r.roster.connect(ev.edge.id, m.AccountID, m.DeviceID, m.DeviceName); change {
		case connectUnchanged:
			// A roster replay after relink repeats connections the
			// outbox already delivered.
			logger.Debug("ignoring repeated connection", "device_id", m.DeviceID)
			return
		case connectMoved:
			logger.Info("device moved between edges", "device_id", m.DeviceID, "from_edge_conn", previous)
		}
		r.fanout(m.AccountID, m)

	case *signal.Disconnection:
		entry, ok := r.roster.disconnect(ev.edge.id, m.AccountID, m.DeviceID)
		if !ok {
			logger.Debug("ignoring stale disconnection", "device_id", m.DeviceID)
			return
		}
		if m.DeviceName == "" {
			m.DeviceName = entry.name
		}
		r.fanout(m.AccountID, m)

	case *signal.NameChange:
		if !r.roster.rename(m.AccountID, m.DeviceID, m.DeviceName) {
			logger.Debug("name change for unknown device", "device_id", m.DeviceID)
			return
		}
		r.fanout(m.AccountID, m)

	case *signal.Broadcast:
		target, ok := r.roster.locate(m.AccountID, m.DeviceID)
		if !ok {
			logger.Debug("dropping broadcast to unknown device", "device_id", m.DeviceID)
			return
		}
		r.send(target, m, "")

	case *signal.BroadcastAll:
		r.fanout(m.AccountID, m)

	case *signal.Devices:
		r.reply(ev.edge, &signal.Devices{
			AccountID: m.AccountID,
			DeviceID:  m.DeviceID,
			Devices:   r.roster.devicesOf(m.AccountID),
		}, ev.requestID)

	case *signal.Ping:
		r.reply(ev.edge, &signal.Pong{}, ev.requestID)

	case *signal.Pong:

	default:
		logger.Warn("dropping unexpected edge message", "type", ev.message.Type())
	}
}

// fanout sends message to every edge holding a device of account.
func (r *Relay) fanout(account string, message signal.Message) {
	data, err := signal.Encode(message, "")
	if err != nil {
		r.logger.Error("encoding fanout", "type", message.Type(), "error", err)
		return
	}
	for _, id := range r.roster.edgesOf(account) {
		if edge := r.edges[id]; edge != nil {
			r.write(edge, data)
		}
	}
}

func (r *Relay) send(id uint64, message signal.Message, requestID string) {
	edge := r.edges[id]
	if edge == nil {
		return
	}
	r.reply(edge, message, requestID)
}

func (r *Relay) reply(edge *edgeSession, message signal.Message, requestID string) {
	data, err := signal.Encode(message, requestID)
	if err != nil {
		r.logger.Error("encoding reply", "type", message.Type(), "error", err)
		return
	}
	r.write(edge, data)
}

func (r *Relay) write(edge *edgeSession, data []byte) {
	if err := edge.out.Send(data); err != nil {
		edge.logger.Warn("edge send failed", "error", err)
	}
}
