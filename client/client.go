// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/netutil"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/version"
	"github.com/peerdrop/peerdrop/lib/wsconn"
	"github.com/peerdrop/peerdrop/transport"
)

var (
	// ErrAuth is returned by Run when the edge refuses the client's
	// credentials. Reconnecting would not help.
	ErrAuth = errors.New("edge refused authentication")

	// ErrDisconnected fails requests whose socket dropped before the
	// answer arrived.
	ErrDisconnected = errors.New("disconnected from edge")

	// ErrNotConnected is returned when there is no live socket.
	ErrNotConnected = errors.New("not connected to edge")

	// ErrShare wraps a share-error answer.
	ErrShare = errors.New("share operation failed")
)

// SharePrefix marks a remote ID that names a share session.
const SharePrefix = "share:"

// Config holds Client settings.
type Config struct {
	// URL is the edge's device endpoint. Required.
	URL string

	// DeviceID and DeviceName identify this install. DeviceID is
	// required unless the client is anonymous.
	DeviceID   string
	DeviceName string

	// Token is a stored session token. When empty, Username and
	// Password log in (Register creates the account). With neither,
	// the client is anonymous and may only use share operations.
	Token    string
	Username string
	Password string
	Register bool

	// Backoff schedules reconnects. Default base 1s, growth 500ms.
	Backoff backoff.Linear

	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) anonymous() bool {
	return c.Token == "" && c.Username == ""
}

// Events receives client notifications on the reading goroutine. Nil
// fields are ignored.
type Events struct {
	// Authenticated reports each successful authentication. Token is
	// set when the edge issued a new session that must be stored.
	Authenticated func(result signal.AuthResult)

	// Presence delivers connection, disconnection and name-change
	// messages about sibling devices.
	Presence func(message signal.Message)

	// Signal delivers peer negotiation from a device ID or a
	// SharePrefix remote ID.
	Signal func(remoteID string, sig transport.Signal)

	// Share delivers share-guest-connected and share-close pushed by
	// the edge.
	Share func(message signal.Message)

	// Broadcast delivers broadcast payloads that are not peer
	// negotiation.
	Broadcast func(from string, payload json.RawMessage)
}

// Client is a device connection to an edge.
type Client struct {
	config Config
	events Events
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	conn    *wsconn.Conn
	token   string
	account string
	pending map[string]chan signal.Message
	changed chan struct{}
}

// New returns a Client. Call Run to connect.
func New(config Config, events Events) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("client: edge URL is required")
	}
	if !config.anonymous() && config.DeviceID == "" {
		return nil, errors.New("client: device ID is required")
	}
	if config.Backoff == (backoff.Linear{}) {
		config.Backoff = backoff.Linear{Base: time.Second, Growth: 500 * time.Millisecond}
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
	return &Client{
		config:  config,
		events:  events,
		clock:   config.Clock,
		logger:  config.Logger,
		token:   config.Token,
		pending: make(map[string]chan signal.Message),
		changed: make(chan struct{}),
	}, nil
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// AccountID returns the authenticated account, empty before the
// first authentication or for anonymous clients.
func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// Run connects and stays connected until ctx is cancelled. It returns
// ErrAuth if the edge refuses the credentials.
func (c *Client) Run(ctx context.Context) error {
	disconnects := 0
	for {
		established, err := c.session(ctx)
		if errors.Is(err, ErrAuth) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if established {
			disconnects = 0
		}
		disconnects++
		delay := c.config.Backoff.Delay(disconnects)
		c.logger.Warn("edge connection lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// Ready waits until the client has a live, authenticated socket.
func (c *Client) Ready(ctx context.Context) error {
	for {
		c.mu.Lock()
		connected, changed := c.conn != nil, c.changed
		c.mu.Unlock()
		if connected {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) setConn(conn *wsconn.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if conn == nil {
		for id, reply := range c.pending {
			close(reply)
			delete(c.pending, id)
		}
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) session(ctx context.Context) (established bool, err error) {
	ws, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, version.Header("peerdrop"))
	if err != nil {
		return false, fmt.Errorf("dialing edge: %w", err)
	}
	conn := wsconn.New(ws, c.logger)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.CloseWith(websocket.CloseNormalClosure, "client shutting down")
	})
	defer stop()

	if !c.config.anonymous() {
		if err := c.authenticate(conn); err != nil {
			return false, err
		}
	}
	c.setConn(conn)
	defer c.setConn(nil)

	for {
		raw, err := conn.Read()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				return true, nil
			}
			return true, err
		}
		message, requestID, err := signal.Decode(raw)
		if err != nil {
			c.logger.Warn("dropping undecodable edge message", "error", err)
			continue
		}
		c.handle(message, requestID)
	}
}

func (c *Client) authenticate(conn *wsconn.Conn) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	auth := &signal.Auth{
		DeviceID:   c.config.DeviceID,
		DeviceName: c.config.DeviceName,
		Version:    version.Short(),
	}
	if token != "" {
		auth.Token = token
	} else {
		auth.Username = c.config.Username
		auth.Password = c.config.Password
		auth.Register = c.config.Register
	}
	if err := conn.SendMessage(auth, ""); err != nil {
		return err
	}
	raw, err := conn.Read()
	if err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	message, _, err := signal.Decode(raw)
	if err != nil {
		return fmt.Errorf("decoding auth result: %w", err)
	}
	result, ok := message.(*signal.AuthResult)
	if !ok {
		return fmt.Errorf("expected auth-result, got %s", message.Type())
	}
	if !result.OK {
		return fmt.Errorf("%w: %s", ErrAuth, result.Error)
	}

	c.mu.Lock()
	if result.Token != "" {
		c.token = result.Token
	}
	c.account = result.AccountID
	c.mu.Unlock()
	c.logger.Info("authenticated to edge", "account_id", result.AccountID, "device_id", result.DeviceID)
	if c.events.Authenticated != nil {
		c.events.Authenticated(*result)
	}
	return nil
}

// handle routes one inbound message: answers to their callers,
// everything else to Events.
func (c *Client) handle(message signal.Message, requestID string) {
	if requestID != "" {
		c.mu.Lock()
		reply, ok := c.pending[requestID]
		delete(c.pending, requestID)
		c.mu.Unlock()
		if ok {
			reply <- message
			return
		}
	}

	switch m := message.(type) {
	case *signal.Connection, *signal.Disconnection, *signal.NameChange:
		if c.events.Presence != nil {
			c.events.Presence(message)
		}
	case *signal.Broadcast:
		c.deliverPayload(m.From, m.Payload)
	case *signal.BroadcastAll:
		c.deliverPayload(m.From, m.Payload)
	case *signal.ShareSignal:
		c.deliverPayload(SharePrefix+m.Token, m.Payload)
	case *signal.ShareGuestConnected, *signal.ShareClose:
		if c.events.Share != nil {
			c.events.Share(message)
		}
	case *signal.Ping:
		c.send(&signal.Pong{}, requestID)
	case *signal.Pong:
	default:
		c.logger.Debug("ignoring edge message", "type", message.Type())
	}
}

// signalPayload is the broadcast payload carrying peer negotiation.
type signalPayload struct {
	Signal *transport.Signal `json:"signal,omitempty"`
}

func (c *Client) deliverPayload(from string, payload json.RawMessage) {
	var decoded signalPayload
	if err := json.Unmarshal(payload, &decoded); err == nil && decoded.Signal != nil {
		if c.events.Signal != nil {
			c.events.Signal(from, *decoded.Signal)
		}
		return
	}
	if c.events.Broadcast != nil {
		c.events.Broadcast(from, payload)
	}
}

func (c *Client) send(message signal.Message, requestID string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendMessage(message, requestID)
}

// SendSignal delivers peer negotiation to a device or share session.
func (c *Client) SendSignal(ctx context.Context, remoteID string, sig transport.Signal) error {
	payload, err := json.Marshal(signalPayload{Signal: &sig})
	if err != nil {
		return err
	}
	if token, ok := strings.CutPrefix(remoteID, SharePrefix); ok {
		return c.send(&signal.ShareSignal{Token: token, Payload: payload}, "")
	}
	return c.send(&signal.Broadcast{DeviceID: remoteID, Payload: payload}, "")
}

// BroadcastAll sends payload to every other device of the account.
func (c *Client) BroadcastAll(payload json.RawMessage) error {
	return c.send(&signal.BroadcastAll{Payload: payload}, "")
}
