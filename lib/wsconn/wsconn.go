// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsconn wraps a gorilla websocket connection with the
// single-writer discipline the edge, relay and client share: one
// goroutine owns writes, other goroutines enqueue envelopes and never
// block on a slow peer.
package wsconn

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

const (
	// ReadLimit bounds one inbound envelope.
	ReadLimit = 1 << 20

	writeTimeout = 10 * time.Second
	queueSize    = 256
)

var (
	// ErrClosed is returned by Send once the connection is closed.
	ErrClosed = errors.New("websocket connection closed")

	// ErrSlowConsumer is returned by Send when the outbound queue is
	// full. The connection is closed before Send returns.
	ErrSlowConsumer = errors.New("websocket send queue full")
)

type outbound struct {
	data []byte

	// closeCode, when non-zero, makes the writer send a close frame
	// and stop. Envelopes queued before it are written first.
	closeCode   int
	closeReason string

	// written, when set, receives the result of the write.
	written chan error
}

// Conn is a websocket connection with a queued writer.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	queue chan outbound
	done  chan struct{}
	once  sync.Once
}

// New wraps ws and starts its writer goroutine.
func New(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ws.SetReadLimit(ReadLimit)
	c := &Conn{
		ws:     ws,
		logger: logger,
		queue:  make(chan outbound, queueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case item := <-c.queue:
			if item.closeCode != 0 {
				message := websocket.FormatCloseMessage(item.closeCode, item.closeReason)
				c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)) //nolint:realclock socket deadline
				c.Close()
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:realclock socket deadline
			err := c.ws.WriteMessage(websocket.TextMessage, item.data)
			if item.written != nil {
				item.written <- err
			}
			if err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// Send queues one raw envelope.
func (c *Conn) Send(data []byte) error {
	return c.enqueue(outbound{data: data})
}

// Write queues one raw envelope and waits until it has been written
// to the socket. An error means the envelope may not have reached the
// peer.
func (c *Conn) Write(data []byte) error {
	written := make(chan error, 1)
	if err := c.enqueue(outbound{data: data, written: written}); err != nil {
		return err
	}
	select {
	case err := <-written:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// SendMessage encodes and queues message.
func (c *Conn) SendMessage(message signal.Message, requestID string) error {
	data, err := signal.Encode(message, requestID)
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Conn) enqueue(item outbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.queue <- item:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.logger.Warn("closing websocket with full send queue")
		c.Close()
		return ErrSlowConsumer
	}
}

// Read returns the next text or binary message.
func (c *Conn) Read() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Ping writes a websocket ping frame. Safe to call concurrently with
// the writer.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)) //nolint:realclock socket deadline
}

// OnPong installs f as the pong handler. f runs on the reading
// goroutine.
func (c *Conn) OnPong(f func()) {
	c.ws.SetPongHandler(func(string) error {
		f()
		return nil
	})
}

// CloseWith sends a close frame with code and reason after everything
// already queued, then closes. If the queue is full it closes at once.
func (c *Conn) CloseWith(code int, reason string) {
	if err := c.enqueue(outbound{closeCode: code, closeReason: reason}); err != nil {
		c.Close()
	}
}

// Close tears the connection down immediately. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
