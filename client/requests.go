// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// Request sends message and waits for the answer carrying the same
// requestId.
func (c *Client) Request(ctx context.Context, message signal.Message) (signal.Message, error) {
	requestID := uuid.NewString()
	reply := make(chan signal.Message, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[requestID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}
	if err := conn.SendMessage(message, requestID); err != nil {
		forget()
		return nil, err
	}

	select {
	case answer, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		if failed, isError := answer.(*signal.ShareError); isError {
			return nil, fmt.Errorf("%w: %s", ErrShare, failed.Error)
		}
		return answer, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func expectReply[T signal.Message](answer signal.Message, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := answer.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s answer", answer.Type())
	}
	return typed, nil
}

// Devices returns every connected device of the account, across all
// edges.
func (c *Client) Devices(ctx context.Context) ([]signal.Device, error) {
	answer, err := expectReply[*signal.Devices](c.Request(ctx, &signal.Devices{}))
	if err != nil {
		return nil, err
	}
	return answer.Devices, nil
}

// Rename changes this device's display name for every sibling.
func (c *Client) Rename(name string) error {
	return c.send(&signal.NameChange{DeviceName: name}, "")
}

// ShareCreate opens a share session offering files and returns its
// token.
func (c *Client) ShareCreate(ctx context.Context, passcode string, files []signal.FileMeta) (string, error) {
	answer, err := expectReply[*signal.ShareCreated](c.Request(ctx, &signal.ShareCreate{Passcode: passcode, Files: files}))
	if err != nil {
		return "", err
	}
	return answer.Token, nil
}

// ShareJoin joins a share session as its guest and returns the
// offered files.
func (c *Client) ShareJoin(ctx context.Context, token, passcode string) ([]signal.FileMeta, error) {
	answer, err := expectReply[*signal.ShareGuestAccepted](c.Request(ctx, &signal.ShareGuestJoin{Token: token, Passcode: passcode}))
	if err != nil {
		return nil, err
	}
	return answer.Files, nil
}

// ShareStatus reports whether a guest has joined.
func (c *Client) ShareStatus(ctx context.Context, token string) (bool, error) {
	answer, err := expectReply[*signal.ShareStatus](c.Request(ctx, &signal.ShareStatus{Token: token}))
	if err != nil {
		return false, err
	}
	return answer.GuestPresent, nil
}

// ShareClose destroys a share session.
func (c *Client) ShareClose(ctx context.Context, token string) error {
	_, err := expectReply[*signal.ShareClose](c.Request(ctx, &signal.ShareClose{Token: token}))
	return err
}
