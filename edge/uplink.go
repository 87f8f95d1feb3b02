// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/peerdrop/peerdrop/lib/netutil"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/version"
	"github.com/peerdrop/peerdrop/lib/wsconn"
)

// Run maintains the relay link and drains the outbox until ctx is
// cancelled. It returns ErrRelayAuth if the relay refuses this edge.
func (g *Gateway) Run(ctx context.Context) error {
	if g.config.RelayURL == "" || g.config.RelaySecret == "" {
		return errors.New("edge: relay URL and secret are required")
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.drain(ctx)
		return nil
	})
	group.Go(func() error {
		return g.maintainLink(ctx)
	})
	return group.Wait()
}

func (g *Gateway) maintainLink(ctx context.Context) error {
	disconnects := 0
	for {
		authenticated, err := g.linkSession(ctx)
		if errors.Is(err, ErrRelayAuth) {
			g.logger.Error("relay refused this edge", "error", err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if authenticated {
			disconnects = 0
		}
		disconnects++
		delay := g.config.Backoff.Delay(disconnects)
		g.logger.Warn("relay link down, reconnecting", "error", err, "delay", delay, "disconnects", disconnects)
		select {
		case <-g.clock.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// linkSession dials the relay, authenticates, replays the local
// roster and reads until the link drops.
func (g *Gateway) linkSession(ctx context.Context) (authenticated bool, err error) {
	ws, _, err := g.config.Dialer.DialContext(ctx, g.config.RelayURL, version.Header("peerdrop-edge"))
	if err != nil {
		return false, fmt.Errorf("dialing relay: %w", err)
	}
	conn := wsconn.New(ws, g.logger)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.CloseWith(websocket.CloseGoingAway, "edge shutting down")
	})
	defer stop()

	if err := g.relayAuth(conn); err != nil {
		return false, err
	}
	g.logger.Info("relay link authenticated", "relay", g.config.RelayURL)

	// Replay after anything queued while the link was down, so the
	// relay ends on the current roster.
	for _, device := range g.state.Devices() {
		g.toRelay(&signal.Connection{
			AccountID:  device.AccountID,
			DeviceID:   device.DeviceID,
			DeviceName: device.DeviceName,
		}, "")
	}
	g.link.Store(conn)
	defer g.link.CompareAndSwap(conn, nil)

	return true, g.readRelay(conn)
}

func (g *Gateway) relayAuth(conn *wsconn.Conn) error {
	if err := conn.SendMessage(&signal.Auth{
		EdgeID:  g.config.ID,
		Secret:  g.config.RelaySecret,
		Version: version.Short(),
	}, ""); err != nil {
		return fmt.Errorf("sending relay auth: %w", err)
	}

	var timedOut atomic.Bool
	timer := g.clock.AfterFunc(g.config.RelayAuthTimeout, func() {
		timedOut.Store(true)
		conn.Close()
	})
	raw, err := conn.Read()
	timer.Stop()
	if timedOut.Load() {
		return fmt.Errorf("%w: no answer within %v", ErrRelayAuth, g.config.RelayAuthTimeout)
	}
	if err != nil {
		return fmt.Errorf("reading relay auth result: %w", err)
	}

	message, _, err := signal.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayAuth, err)
	}
	result, ok := message.(*signal.AuthResult)
	if !ok {
		return fmt.Errorf("%w: relay answered %s", ErrRelayAuth, message.Type())
	}
	if !result.OK {
		return fmt.Errorf("%w: %s", ErrRelayAuth, result.Error)
	}
	return nil
}

func (g *Gateway) readRelay(conn *wsconn.Conn) error {
	for {
		raw, err := conn.Read()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				return nil
			}
			return err
		}
		message, requestID, err := signal.Decode(raw)
		if err != nil {
			g.logger.Warn("dropping undecodable relay message", "error", err)
			continue
		}
		g.handleRelay(conn, message, requestID)
	}
}

// handleRelay delivers one relay message to local devices.
func (g *Gateway) handleRelay(conn *wsconn.Conn, message signal.Message, requestID string) {
	switch m := message.(type) {
	case *signal.Connection:
		g.state.deliverAccount(m.AccountID, m.DeviceID, signal.MustEncode(m, ""))
	case *signal.Disconnection:
		g.state.deliverAccount(m.AccountID, m.DeviceID, signal.MustEncode(m, ""))
	case *signal.NameChange:
		g.state.deliverAccount(m.AccountID, m.DeviceID, signal.MustEncode(m, ""))
	case *signal.Broadcast:
		if !g.state.deliverDevice(m.AccountID, m.DeviceID, signal.MustEncode(m, "")) {
			g.logger.Debug("dropping broadcast for absent device", "device_id", m.DeviceID)
		}
	case *signal.BroadcastAll:
		g.state.deliverAccount(m.AccountID, m.From, signal.MustEncode(m, ""))
	case *signal.Devices:
		answer := &signal.Devices{Devices: m.Devices}
		if !g.state.deliverDevice(m.AccountID, m.DeviceID, signal.MustEncode(answer, requestID)) {
			g.logger.Debug("dropping roster answer for absent device", "device_id", m.DeviceID)
		}
	case *signal.Ping:
		conn.SendMessage(&signal.Pong{}, requestID)
	case *signal.Pong:
	default:
		g.logger.Warn("dropping unexpected relay message", "type", message.Type())
	}
}

// drain writes the outbox to the relay one envelope at a time. An
// envelope leaves the outbox only after it was written; a failed
// write is retried after RetryDelay. While the link is down the
// drainer checks back every LinkPollInterval.
func (g *Gateway) drain(ctx context.Context) {
	for {
		seq, data := g.outbox.Peek()
		if data == nil {
			select {
			case <-g.outbox.Notify():
				continue
			case <-ctx.Done():
				return
			}
		}
		link := g.link.Load()
		if link == nil {
			select {
			case <-g.clock.After(g.config.LinkPollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}
		if err := link.Write(data); err != nil {
			g.logger.Debug("relay write failed, retrying", "error", err, "queued", g.outbox.Len())
			select {
			case <-g.clock.After(g.config.RetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		if !g.outbox.Pop(seq) {
			g.logger.Debug("written envelope was evicted during the write")
		}
	}
}
