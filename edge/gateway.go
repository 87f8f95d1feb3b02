// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/account"
	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/netutil"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/wsconn"
	"github.com/peerdrop/peerdrop/share"
)

var (
	// ErrRelayAuth is returned by Run when the central relay refuses
	// this edge's credentials or does not answer within
	// RelayAuthTimeout.
	ErrRelayAuth = errors.New("central relay authentication failed")

	errProtocol   = errors.New("protocol violation")
	errAuthFailed = errors.New("device authentication failed")
	errPartyGone  = errors.New("other party is not connected")
)

// Config holds Gateway settings. Zero durations take the defaults
// noted on each field.
type Config struct {
	// ID names this edge to the relay. Defaults to the hostname.
	ID string

	// RelayURL and RelaySecret reach and authenticate to the central
	// relay. Required by Run.
	RelayURL    string
	RelaySecret string

	// Accounts resolves credentials and session tokens. Required.
	Accounts account.Store

	AuthTimeout  time.Duration // default 30s
	PingInterval time.Duration // default 15s
	PongTimeout  time.Duration // default 3s

	RelayAuthTimeout time.Duration // default 5s
	RetryDelay       time.Duration // default 50ms
	LinkPollInterval time.Duration // default 500ms

	// Backoff schedules relay reconnects. Default base 1s, growth
	// 500ms, uncapped.
	Backoff backoff.Linear

	// OutboxSize bounds bytes queued for the relay. Default 8 MiB.
	OutboxSize int

	ShareJoinBurst    int
	ShareJoinInterval time.Duration

	// Dialer opens the relay link. Default websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Gateway serves device sockets and links them to the central relay.
type Gateway struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	accounts account.Store
	upgrader websocket.Upgrader

	state  *RelayState
	shares *share.Registry
	outbox *Outbox

	// link is the authenticated relay connection, nil while down.
	link atomic.Pointer[wsconn.Conn]
}

// New returns a Gateway. Call Run to connect it to the relay and
// mount it (ServeHTTP) to accept devices.
func New(config Config) (*Gateway, error) {
	if config.Accounts == nil {
		return nil, errors.New("edge: account store is required")
	}
	if config.ID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("edge: determining edge ID: %w", err)
		}
		config.ID = hostname
	}
	setDefault(&config.AuthTimeout, 30*time.Second)
	setDefault(&config.PingInterval, 15*time.Second)
	setDefault(&config.PongTimeout, 3*time.Second)
	setDefault(&config.RelayAuthTimeout, 5*time.Second)
	setDefault(&config.RetryDelay, 50*time.Millisecond)
	setDefault(&config.LinkPollInterval, 500*time.Millisecond)
	if config.Backoff == (backoff.Linear{}) {
		config.Backoff = backoff.Linear{Base: time.Second, Growth: 500 * time.Millisecond}
	}
	if config.OutboxSize <= 0 {
		config.OutboxSize = 8 << 20
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	g := &Gateway{
		config:   config,
		clock:    config.Clock,
		logger:   config.Logger.With("edge_id", config.ID),
		accounts: config.Accounts,
		state:    NewRelayState(),
		outbox:   NewOutbox(config.OutboxSize),
	}
	g.shares = share.NewRegistry(share.Config{
		JoinBurst:    config.ShareJoinBurst,
		JoinInterval: config.ShareJoinInterval,
		Alive:        g.state.alive,
		Clock:        config.Clock,
		Logger:       g.logger,
	})
	return g, nil
}

func setDefault(field *time.Duration, value time.Duration) {
	if *field <= 0 {
		*field = value
	}
}

// Devices returns the devices attached to this edge.
func (g *Gateway) Devices() []signal.Device {
	return g.state.Devices()
}

// Shutdown closes every device socket.
func (g *Gateway) Shutdown() {
	g.state.closeAll(websocket.CloseGoingAway, "edge shutting down")
}

// ServeHTTP upgrades a device connection and serves it until it
// closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("device upgrade failed", "error", err)
		return
	}
	conn := wsconn.New(ws, g.logger)
	c := g.state.add(conn, g.logger)
	c.logger.Debug("device socket opened", "remote", conn.RemoteAddr(), "user_agent", r.UserAgent())

	c.authTimer = g.clock.AfterFunc(g.config.AuthTimeout, func() {
		if g.state.needsAuth(c) {
			c.logger.Info("device did not authenticate in time")
			conn.CloseWith(websocket.ClosePolicyViolation, "authentication timeout")
		}
	})
	stopHeartbeat := g.startHeartbeat(c, conn)
	defer func() {
		c.authTimer.Stop()
		stopHeartbeat()
		conn.Close()
		g.disconnect(c)
	}()

	ctx := r.Context()
	for {
		raw, err := conn.Read()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				c.logger.Debug("device socket closed", "error", err)
			} else {
				c.logger.Info("device socket read failed", "error", err)
			}
			return
		}
		message, requestID, err := signal.Decode(raw)
		if err != nil {
			c.logger.Warn("closing device socket", "error", err)
			conn.CloseWith(websocket.ClosePolicyViolation, err.Error())
			return
		}
		if err := g.dispatch(ctx, c, message, requestID); err != nil {
			if errors.Is(err, errProtocol) {
				c.logger.Warn("closing device socket", "error", err)
				conn.CloseWith(websocket.ClosePolicyViolation, err.Error())
			}
			return
		}
	}
}

// startHeartbeat pings c every PingInterval and closes it when a pong
// does not arrive within PongTimeout.
func (g *Gateway) startHeartbeat(c *deviceConn, conn *wsconn.Conn) func() {
	conn.OnPong(func() { c.pong() })
	ticker := g.clock.NewTicker(g.config.PingInterval)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-conn.Done():
				return
			case <-ticker.C:
				c.heartbeat.Lock()
				if c.pongDeadline != nil {
					c.pongDeadline.Stop()
				}
				c.pongDeadline = g.clock.AfterFunc(g.config.PongTimeout, func() {
					c.logger.Info("device missed pong, closing")
					conn.Close()
				})
				c.heartbeat.Unlock()
				if err := conn.Ping(); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		c.pong()
	}
}

// pong clears a pending pong deadline.
func (c *deviceConn) pong() {
	c.heartbeat.Lock()
	defer c.heartbeat.Unlock()
	if c.pongDeadline != nil {
		c.pongDeadline.Stop()
		c.pongDeadline = nil
	}
}

// disconnect runs socket cleanup: leave the roster and, if the
// socket still spoke for its device, tell the relay.
func (g *Gateway) disconnect(c *deviceConn) {
	device, rostered := g.state.remove(c)
	if !rostered {
		return
	}
	c.logger.Info("device disconnected", "account_id", device.AccountID, "device_id", device.DeviceID)
	g.toRelay(&signal.Disconnection{
		AccountID:  device.AccountID,
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
	}, "")
}

// toRelay queues message for the relay.
func (g *Gateway) toRelay(message signal.Message, requestID string) {
	data, err := signal.Encode(message, requestID)
	if err != nil {
		g.logger.Error("encoding relay message", "type", message.Type(), "error", err)
		return
	}
	if err := g.outbox.Push(data); err != nil {
		g.logger.Error("queueing relay message", "type", message.Type(), "error", err)
	}
}

// reply sends message to c, bypassing deferral.
func (c *deviceConn) reply(message signal.Message, requestID string) {
	data, err := signal.Encode(message, requestID)
	if err != nil {
		c.logger.Error("encoding reply", "type", message.Type(), "error", err)
		return
	}
	if err := c.out.Send(data); err != nil {
		c.logger.Debug("reply dropped", "type", message.Type(), "error", err)
	}
}
