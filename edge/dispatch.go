// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/account"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// dispatch handles one message from a device socket. A returned error
// ends the socket; errProtocol errors close it with a policy
// violation.
func (g *Gateway) dispatch(ctx context.Context, c *deviceConn, message signal.Message, requestID string) error {
	switch m := message.(type) {
	case *signal.Auth:
		return g.authenticate(ctx, c, m, requestID)
	case *signal.Ping:
		c.reply(&signal.Pong{}, requestID)
		return nil
	case *signal.Pong:
		c.pong()
		return nil
	case *signal.ShareCreate, *signal.ShareGuestJoin, *signal.ShareStatus, *signal.ShareSignal, *signal.ShareClose:
		g.handleShare(c, message, requestID)
		return nil
	}

	if !g.state.authenticated(c) {
		return fmt.Errorf("%w: %s before authentication", errProtocol, message.Type())
	}
	self := g.state.identity(c)

	switch m := message.(type) {
	case *signal.Devices:
		g.toRelay(&signal.Devices{AccountID: self.AccountID, DeviceID: self.DeviceID}, requestID)

	case *signal.NameChange:
		if err := g.accounts.RenameDevice(ctx, self.DeviceID, m.DeviceName); err != nil {
			c.logger.Warn("storing device name", "error", err)
		}
		g.state.rename(c, m.DeviceName)
		g.toRelay(&signal.NameChange{AccountID: self.AccountID, DeviceID: self.DeviceID, DeviceName: m.DeviceName}, "")

	case *signal.Broadcast:
		routed := &signal.Broadcast{AccountID: self.AccountID, From: self.DeviceID, DeviceID: m.DeviceID, Payload: m.Payload}
		data, err := signal.Encode(routed, "")
		if err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		if g.state.deliverDevice(self.AccountID, m.DeviceID, data) {
			return nil
		}
		if err := g.outbox.Push(data); err != nil {
			c.logger.Warn("dropping broadcast", "error", err)
		}

	case *signal.BroadcastAll:
		g.toRelay(&signal.BroadcastAll{AccountID: self.AccountID, From: self.DeviceID, Payload: m.Payload}, "")

	default:
		return fmt.Errorf("%w: unexpected %s from device", errProtocol, message.Type())
	}
	return nil
}

// authenticate runs the linear auth flow: resolve the session, roster
// the device, send auth-result, announce presence, then release
// deliveries held meanwhile.
func (g *Gateway) authenticate(ctx context.Context, c *deviceConn, m *signal.Auth, requestID string) error {
	if m.EdgeID != "" {
		return fmt.Errorf("%w: edge auth on a device socket", errProtocol)
	}
	if g.state.identity(c).DeviceID != "" {
		return fmt.Errorf("%w: already authenticated", errProtocol)
	}

	session, err := g.resolveSession(ctx, m)
	if err != nil {
		reason := "internal error"
		switch {
		case errors.Is(err, account.ErrInvalidCredentials),
			errors.Is(err, account.ErrSessionNotFound),
			errors.Is(err, account.ErrAccountExists),
			errors.Is(err, account.ErrRegistrationDisabled):
			reason = err.Error()
			c.logger.Info("device authentication refused", "device_id", m.DeviceID, "error", err)
		default:
			c.logger.Error("device authentication failed", "device_id", m.DeviceID, "error", err)
		}
		c.reply(&signal.AuthResult{Error: reason}, requestID)
		c.out.CloseWith(websocket.ClosePolicyViolation, "authentication failed")
		return errAuthFailed
	}

	if superseded := g.state.register(c, session.AccountID, session.DeviceID, session.DeviceName); superseded != nil {
		superseded.logger.Info("device socket superseded", "by_conn", c.id)
		superseded.out.CloseWith(websocket.CloseNormalClosure, "superseded by a newer connection")
	}
	c.authTimer.Stop()

	c.reply(&signal.AuthResult{
		OK:        true,
		AccountID: session.AccountID,
		DeviceID:  session.DeviceID,
		Token:     session.Token,
	}, requestID)
	g.toRelay(&signal.Connection{
		AccountID:  session.AccountID,
		DeviceID:   session.DeviceID,
		DeviceName: session.DeviceName,
	}, "")
	g.state.activate(c)
	c.logger.Info("device authenticated", "account_id", session.AccountID, "device_id", session.DeviceID)
	return nil
}

// resolveSession returns the session for a token, or logs in with a
// username and password and issues a new one. Only a new session
// carries its Token.
func (g *Gateway) resolveSession(ctx context.Context, m *signal.Auth) (*account.Session, error) {
	if m.Token != "" {
		session, err := g.accounts.LookupSession(ctx, m.Token, m.DeviceID)
		if err != nil {
			return nil, err
		}
		resolved := *session
		resolved.Token = ""
		if m.DeviceName != "" && m.DeviceName != resolved.DeviceName {
			if err := g.accounts.RenameDevice(ctx, m.DeviceID, m.DeviceName); err != nil {
				return nil, fmt.Errorf("storing device name: %w", err)
			}
			resolved.DeviceName = m.DeviceName
		}
		return &resolved, nil
	}

	acct, err := g.accounts.Authenticate(ctx, account.Credentials{
		Username: m.Username,
		Password: m.Password,
		Register: m.Register,
	})
	if err != nil {
		return nil, err
	}
	name := m.DeviceName
	if name == "" {
		name = m.DeviceID
	}
	return g.accounts.CreateSession(ctx, acct.ID, m.DeviceID, name)
}

// handleShare serves the share operations. Failures are reported to
// the requesting socket only and never change the session.
func (g *Gateway) handleShare(c *deviceConn, message signal.Message, requestID string) {
	fail := func(token string, err error) {
		c.logger.Info("share operation refused", "type", message.Type(), "token", token, "error", err)
		c.reply(&signal.ShareError{Token: token, Error: err.Error()}, requestID)
	}

	switch m := message.(type) {
	case *signal.ShareCreate:
		token, err := g.shares.Create(m.Passcode, m.Files, c.id)
		if err != nil {
			fail("", err)
			return
		}
		g.state.exemptFromAuth(c)
		c.reply(&signal.ShareCreated{Token: token}, requestID)

	case *signal.ShareGuestJoin:
		session, err := g.shares.Join(m.Token, m.Passcode, c.id)
		if err != nil {
			fail(m.Token, err)
			return
		}
		g.state.exemptFromAuth(c)
		c.reply(&signal.ShareGuestAccepted{Token: m.Token, Files: session.Files}, requestID)
		g.state.deliver(session.Sharer, signal.MustEncode(&signal.ShareGuestConnected{Token: m.Token}, ""))

	case *signal.ShareStatus:
		present, err := g.shares.Status(m.Token, c.id)
		if err != nil {
			fail(m.Token, err)
			return
		}
		g.state.exemptFromAuth(c)
		c.reply(&signal.ShareStatus{Token: m.Token, GuestPresent: present}, requestID)

	case *signal.ShareSignal:
		to, err := g.shares.Route(m.Token, c.id)
		if err != nil {
			fail(m.Token, err)
			return
		}
		if !g.state.deliver(to, signal.MustEncode(&signal.ShareSignal{Token: m.Token, Payload: m.Payload}, "")) {
			fail(m.Token, errPartyGone)
		}

	case *signal.ShareClose:
		session, err := g.shares.Close(m.Token, c.id)
		if err != nil {
			fail(m.Token, err)
			return
		}
		closed := signal.MustEncode(&signal.ShareClose{Token: m.Token}, "")
		for _, party := range []uint64{session.Sharer, session.Guest} {
			if party != 0 && party != c.id {
				g.state.deliver(party, closed)
			}
		}
		c.reply(&signal.ShareClose{Token: m.Token}, requestID)
	}
}
