// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/account"
	"github.com/peerdrop/peerdrop/edge"
	"github.com/peerdrop/peerdrop/lib/backoff"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/lib/testutil"
	"github.com/peerdrop/peerdrop/relay"
	"github.com/peerdrop/peerdrop/transport"
)

const (
	relaySecret = "test-secret"
	waitTimeout = 5 * time.Second
)

var discard = slog.New(slog.DiscardHandler)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type stack struct {
	accounts *account.Memory
	gateway  *edge.Gateway
	url      string
}

// startStack runs a central relay and one edge gateway in front of
// it.
func startStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	central, err := relay.New(relay.Config{Secret: relaySecret, Logger: discard})
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	relayDone := make(chan struct{})
	go func() {
		central.Run(ctx)
		close(relayDone)
	}()
	relayServer := httptest.NewServer(central)

	accounts := account.NewMemory(true)
	gateway, err := edge.New(edge.Config{
		ID:          "edge-test",
		RelayURL:    wsURL(relayServer),
		RelaySecret: relaySecret,
		Accounts:    accounts,
		Logger:      discard,
	})
	if err != nil {
		t.Fatalf("edge.New: %v", err)
	}
	edgeDone := make(chan struct{})
	go func() {
		gateway.Run(ctx)
		close(edgeDone)
	}()
	edgeServer := httptest.NewServer(gateway)

	t.Cleanup(func() {
		gateway.Shutdown()
		edgeServer.Close()
		relayServer.Close()
		cancel()
		<-edgeDone
		<-relayDone
	})
	return &stack{accounts: accounts, gateway: gateway, url: wsURL(edgeServer)}
}

type recorder struct {
	presence chan signal.Message
	signals  chan receivedSignal
	share    chan signal.Message
}

type receivedSignal struct {
	from string
	sig  transport.Signal
}

func newRecorder() *recorder {
	return &recorder{
		presence: make(chan signal.Message, 16),
		signals:  make(chan receivedSignal, 16),
		share:    make(chan signal.Message, 16),
	}
}

func (r *recorder) events() Events {
	return Events{
		Presence: func(m signal.Message) { r.presence <- m },
		Signal:   func(from string, sig transport.Signal) { r.signals <- receivedSignal{from, sig} },
		Share:    func(m signal.Message) { r.share <- m },
	}
}

// startClient runs a client until the test ends and waits for it to
// be ready.
func startClient(t *testing.T, config Config, events Events) *Client {
	t.Helper()
	config.Logger = discard
	if config.Backoff == (backoff.Linear{}) {
		config.Backoff = backoff.Linear{Base: 10 * time.Millisecond}
	}
	c, err := New(config, events)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	readyCtx, readyCancel := context.WithTimeout(ctx, waitTimeout)
	defer readyCancel()
	if err := c.Ready(readyCtx); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	return c
}

func (s *stack) device(t *testing.T, accountID, deviceID string, events Events) *Client {
	t.Helper()
	session, err := s.accounts.CreateSession(context.Background(), accountID, deviceID, deviceID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return startClient(t, Config{URL: s.url, DeviceID: deviceID, Token: session.Token}, events)
}

func TestSignalsReachSibling(t *testing.T) {
	s := startStack(t)
	laptopEvents := newRecorder()
	laptop := s.device(t, "acct", "laptop", laptopEvents.events())
	if _, err := laptop.Devices(context.Background()); err != nil {
		t.Fatalf("Devices: %v", err)
	}
	phone := s.device(t, "acct", "phone", newRecorder().events())

	connected := testutil.RequireReceive(t, laptopEvents.presence, waitTimeout, "phone presence")
	if c, ok := connected.(*signal.Connection); !ok || c.DeviceID != "phone" {
		t.Fatalf("presence = %#v", connected)
	}

	offer := transport.Signal{Kind: transport.SignalOffer, SDP: "v=0 test"}
	if err := phone.SendSignal(context.Background(), "laptop", offer); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	got := testutil.RequireReceive(t, laptopEvents.signals, waitTimeout, "offer at laptop")
	if got.from != "phone" || got.sig.Kind != transport.SignalOffer || got.sig.SDP != "v=0 test" {
		t.Fatalf("received %+v", got)
	}

	devices, err := phone.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %+v", devices)
	}
}

func TestRegisterStoresToken(t *testing.T) {
	s := startStack(t)
	tokens := make(chan string, 1)
	c := startClient(t, Config{
		URL:      s.url,
		DeviceID: "laptop",
		Username: "grace",
		Password: "hopper",
		Register: true,
	}, Events{Authenticated: func(result signal.AuthResult) { tokens <- result.Token }})

	token := testutil.RequireReceive(t, tokens, waitTimeout, "issued token")
	if token == "" || c.Token() != token || c.AccountID() == "" {
		t.Fatalf("token %q, client token %q, account %q", token, c.Token(), c.AccountID())
	}
}

func TestRefusedCredentialsStopRun(t *testing.T) {
	s := startStack(t)
	c, err := New(Config{URL: s.url, DeviceID: "laptop", Token: "stale", Logger: discard}, Events{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, ErrAuth) {
		t.Fatalf("Run = %v, want ErrAuth", err)
	}
}

func TestReconnectAfterEdgeDrop(t *testing.T) {
	s := startStack(t)
	c := s.device(t, "acct", "laptop", Events{})

	s.gateway.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		if _, err := c.Devices(ctx); err == nil {
			break
		} else if ctx.Err() != nil {
			t.Fatalf("client never recovered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShareOperations(t *testing.T) {
	s := startStack(t)
	sharerEvents, guestEvents := newRecorder(), newRecorder()
	sharer := startClient(t, Config{URL: s.url}, sharerEvents.events())
	guest := startClient(t, Config{URL: s.url}, guestEvents.events())
	ctx := context.Background()

	files := []signal.FileMeta{{Name: "notes.txt", Size: 12}}
	token, err := sharer.ShareCreate(ctx, "2468", files)
	if err != nil {
		t.Fatalf("ShareCreate: %v", err)
	}

	if _, err := guest.ShareJoin(ctx, token, "1357"); !errors.Is(err, ErrShare) {
		t.Fatalf("ShareJoin with wrong passcode = %v, want ErrShare", err)
	}
	offered, err := guest.ShareJoin(ctx, token, "2468")
	if err != nil {
		t.Fatalf("ShareJoin: %v", err)
	}
	if len(offered) != 1 || offered[0].Name != "notes.txt" {
		t.Fatalf("offered = %+v", offered)
	}
	if _, ok := testutil.RequireReceive(t, sharerEvents.share, waitTimeout, "guest connected").(*signal.ShareGuestConnected); !ok {
		t.Fatal("sharer not told about the guest")
	}
	if present, err := sharer.ShareStatus(ctx, token); err != nil || !present {
		t.Fatalf("ShareStatus = %v, %v", present, err)
	}

	answer := transport.Signal{Kind: transport.SignalAnswer, SDP: "v=0 answer"}
	if err := sharer.SendSignal(ctx, SharePrefix+token, answer); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	got := testutil.RequireReceive(t, guestEvents.signals, waitTimeout, "answer at guest")
	if got.from != SharePrefix+token || got.sig.SDP != "v=0 answer" {
		t.Fatalf("received %+v", got)
	}

	if err := guest.ShareClose(ctx, token); err != nil {
		t.Fatalf("ShareClose: %v", err)
	}
	if _, ok := testutil.RequireReceive(t, sharerEvents.share, waitTimeout, "share closed").(*signal.ShareClose); !ok {
		t.Fatal("sharer not told about the close")
	}
	if _, err := sharer.ShareStatus(ctx, token); !errors.Is(err, ErrShare) {
		t.Fatalf("ShareStatus after close = %v, want ErrShare", err)
	}
}
