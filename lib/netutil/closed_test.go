// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

func TestIsExpectedCloseError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("reading frame: %w", io.EOF), true},
		{"net closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Err: unix.ECONNRESET}, true},
		{"broken pipe", fmt.Errorf("write: %w", unix.EPIPE), true},
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"other errno", unix.EACCES, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpectedCloseError(tc.err); got != tc.want {
				t.Fatalf("IsExpectedCloseError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
