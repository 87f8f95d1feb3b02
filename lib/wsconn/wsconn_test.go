// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package wsconn

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// serve starts a websocket server that hands each accepted connection
// to handle, and returns a dialed client connection.
func serve(t *testing.T, handle func(*Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		handle(New(ws, nil))
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCloseWithFlushesQueue(t *testing.T) {
	client := serve(t, func(conn *Conn) {
		conn.SendMessage(&signal.AuthResult{OK: false, Error: "invalid credentials"}, "r1")
		conn.CloseWith(websocket.ClosePolicyViolation, "authentication failed")
	})

	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	message, requestID, err := signal.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	result, ok := message.(*signal.AuthResult)
	if !ok || result.OK || requestID != "r1" {
		t.Fatalf("got %#v (request %q), want failed auth-result r1", message, requestID)
	}

	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("second read error = %v, want policy violation close", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	result := make(chan error, 1)
	client := serve(t, func(conn *Conn) {
		conn.Close()
		<-conn.Done()
		result <- conn.Send([]byte(`{"type":"ping"}`))
	})
	client.ReadMessage()
	if err := <-result; !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
}
