// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors for the websocket
// servers and clients.
package netutil

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, a closed socket, a reset or broken pipe from the
// peer vanishing, or a websocket close frame with a normal, going-away
// or no-status code. Such errors are logged at debug level, not as
// failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET
	}
	return false
}
