// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package share

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

const (
	sharerConn uint64 = 1
	guestConn  uint64 = 2
	otherConn  uint64 = 3
)

func newTestRegistry(alive map[uint64]bool) (*Registry, *clock.FakeClock) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	registry := NewRegistry(Config{
		PasscodeCost: bcrypt.MinCost,
		Clock:        fake,
		Alive:        func(conn uint64) bool { return alive[conn] },
	})
	return registry, fake
}

func TestPasscodeGate(t *testing.T) {
	registry, _ := newTestRegistry(map[uint64]bool{sharerConn: true})
	files := []signal.FileMeta{{Name: "slides.pdf", Size: 1234}}
	token, err := registry.Create("4711", files, sharerConn)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := registry.Join(token, "0000", guestConn); !errors.Is(err, ErrPasscode) {
		t.Fatalf("Join with wrong passcode = %v, want ErrPasscode", err)
	}
	if s, _ := registry.Lookup(token); s.GuestPresent {
		t.Fatal("wrong passcode admitted a guest")
	}
	if _, err := registry.Join("no-such-token", "4711", guestConn); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join with unknown token = %v, want ErrNotFound", err)
	}

	session, err := registry.Join(token, "4711", guestConn)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !session.GuestPresent || session.Sharer != sharerConn || session.Guest != guestConn {
		t.Fatalf("session = %+v", session)
	}
	if len(session.Files) != 1 || session.Files[0].Name != "slides.pdf" {
		t.Fatalf("files = %+v", session.Files)
	}

	if _, err := registry.Join(token, "4711", otherConn); !errors.Is(err, ErrGuestPresent) {
		t.Fatalf("second Join = %v, want ErrGuestPresent", err)
	}
	if s, _ := registry.Lookup(token); s.Guest != guestConn {
		t.Fatalf("second join replaced the guest: %+v", s)
	}
}

func TestJoinRateLimited(t *testing.T) {
	registry, fake := newTestRegistry(map[uint64]bool{sharerConn: true})
	token, err := registry.Create("secret", nil, sharerConn)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for attempt := range 5 {
		if _, err := registry.Join(token, "guess", guestConn); !errors.Is(err, ErrPasscode) {
			t.Fatalf("attempt %d = %v, want ErrPasscode", attempt, err)
		}
	}
	if _, err := registry.Join(token, "secret", guestConn); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("sixth attempt = %v, want ErrRateLimited", err)
	}

	fake.Advance(2 * time.Second)
	if _, err := registry.Join(token, "secret", guestConn); err != nil {
		t.Fatalf("Join after the limiter refilled: %v", err)
	}
}

func TestStatusRebindsGoneSharer(t *testing.T) {
	alive := map[uint64]bool{sharerConn: true, guestConn: true, otherConn: true}
	registry, _ := newTestRegistry(alive)
	token, _ := registry.Create("1", nil, sharerConn)

	present, err := registry.Status(token, sharerConn)
	if err != nil || present {
		t.Fatalf("Status = %v, %v; want false, nil", present, err)
	}
	if _, err := registry.Status(token, otherConn); !errors.Is(err, ErrNotParty) {
		t.Fatalf("Status from stranger = %v, want ErrNotParty", err)
	}

	registry.Join(token, "1", guestConn)
	delete(alive, sharerConn)

	present, err = registry.Status(token, otherConn)
	if err != nil || !present {
		t.Fatalf("Status after sharer left = %v, %v; want true, nil", present, err)
	}
	session, _ := registry.Lookup(token)
	if session.Sharer != otherConn || !session.GuestPresent || session.Guest != guestConn {
		t.Fatalf("session after rebind = %+v", session)
	}
}

func TestRouteBetweenParties(t *testing.T) {
	registry, _ := newTestRegistry(map[uint64]bool{sharerConn: true})
	token, _ := registry.Create("1", nil, sharerConn)

	if _, err := registry.Route(token, sharerConn); !errors.Is(err, ErrNoGuest) {
		t.Fatalf("Route before join = %v, want ErrNoGuest", err)
	}
	registry.Join(token, "1", guestConn)

	if to, err := registry.Route(token, sharerConn); err != nil || to != guestConn {
		t.Fatalf("Route from sharer = %d, %v", to, err)
	}
	if to, err := registry.Route(token, guestConn); err != nil || to != sharerConn {
		t.Fatalf("Route from guest = %d, %v", to, err)
	}
	if _, err := registry.Route(token, otherConn); !errors.Is(err, ErrNotParty) {
		t.Fatalf("Route from stranger = %v, want ErrNotParty", err)
	}
}

func TestCloseDestroysSession(t *testing.T) {
	registry, _ := newTestRegistry(map[uint64]bool{sharerConn: true})
	token, _ := registry.Create("1", nil, sharerConn)

	if _, err := registry.Close(token, otherConn); !errors.Is(err, ErrNotParty) {
		t.Fatalf("Close by stranger = %v, want ErrNotParty", err)
	}
	if _, err := registry.Close(token, sharerConn); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("Len = %d after Close", registry.Len())
	}
	if _, err := registry.Join(token, "1", guestConn); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join after Close = %v, want ErrNotFound", err)
	}
	if _, err := registry.Route(token, sharerConn); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Route after Close = %v, want ErrNotFound", err)
	}
}
