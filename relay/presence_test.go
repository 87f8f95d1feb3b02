// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// capture records what the actor writes to one edge session.
type capture struct {
	messages []signal.Message
}

func (c *capture) Send(data []byte) error {
	message, _, err := signal.Decode(data)
	if err != nil {
		return err
	}
	c.messages = append(c.messages, message)
	return nil
}

func (c *capture) CloseWith(int, string) {}

// simEdge models an edge gateway's relay link: presence sent while
// the link is down is queued, and a relink sends the queue and then
// replays every local device.
type simEdge struct {
	session *edgeSession
	local   map[string]bool
	queue   []signal.Message
}

type presenceSim struct {
	t      *testing.T
	relay  *Relay
	nextID uint64
	logger *slog.Logger
}

func (s *presenceSim) join(name string) (*edgeSession, *capture) {
	s.nextID++
	out := &capture{}
	session := &edgeSession{id: s.nextID, name: name, out: out, logger: s.logger}
	s.relay.handle(event{kind: eventJoined, edge: session})
	return session, out
}

func (s *presenceSim) deliver(session *edgeSession, message signal.Message) {
	s.relay.handle(event{kind: eventMessage, edge: session, message: message})
}

func (s *presenceSim) presence(e *simEdge, message signal.Message) {
	if e.session == nil {
		e.queue = append(e.queue, message)
		return
	}
	s.deliver(e.session, message)
}

// TestSiblingsSeeEachPresenceChangeOnce runs devices on two edges
// whose relay links drop and recover at random. An observer edge
// with a permanent device on every account must see, for every
// device, connection and disconnection events strictly alternating,
// and its last event must match where the device ended up.
func TestSiblingsSeeEachPresenceChangeOnce(t *testing.T) {
	const (
		hosts    = 2
		devices  = 6
		accounts = 2
		steps    = 1500
	)
	accountOf := func(device int) string { return fmt.Sprintf("acct-%d", device%accounts) }
	deviceID := func(device int) string { return fmt.Sprintf("dev-%d", device) }
	hostOf := func(device int) int { return device % hosts }

	for seed := uint64(1); seed <= 20; seed++ {
		relay, err := New(Config{Secret: testSecret})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		sim := &presenceSim{t: t, relay: relay, logger: slog.New(slog.DiscardHandler)}
		rng := rand.New(rand.NewPCG(seed, seed*104729))

		observer, seen := sim.join("observer")
		for account := range accounts {
			sim.deliver(observer, &signal.Connection{
				AccountID:  fmt.Sprintf("acct-%d", account),
				DeviceID:   fmt.Sprintf("watch-%d", account),
				DeviceName: "watch",
			})
		}

		edges := make([]*simEdge, hosts)
		for i := range edges {
			session, _ := sim.join(fmt.Sprintf("host-%d", i))
			edges[i] = &simEdge{session: session, local: make(map[string]bool)}
		}

		for step := range steps {
			switch op := rng.IntN(10); {
			case op < 7:
				device := rng.IntN(devices)
				e := edges[hostOf(device)]
				id := deviceID(device)
				if e.local[id] {
					delete(e.local, id)
					sim.presence(e, &signal.Disconnection{AccountID: accountOf(device), DeviceID: id, DeviceName: id})
				} else {
					e.local[id] = true
					sim.presence(e, &signal.Connection{AccountID: accountOf(device), DeviceID: id, DeviceName: id})
				}
			case op < 9:
				e := edges[rng.IntN(hosts)]
				if e.session != nil {
					relay.handle(event{kind: eventLeft, edge: e.session})
					e.session = nil
				}
			default:
				i := rng.IntN(hosts)
				relink(sim, edges[i], fmt.Sprintf("host-%d", i), accountOf, deviceID, devices)
			}
			checkAlternation(t, seen.messages, fmt.Sprintf("seed %d step %d", seed, step))
		}

		for i, e := range edges {
			relink(sim, e, fmt.Sprintf("host-%d", i), accountOf, deviceID, devices)
		}
		checkAlternation(t, seen.messages, fmt.Sprintf("seed %d after relink", seed))

		last := lastPresence(seen.messages)
		for device := range devices {
			id := deviceID(device)
			want := edges[hostOf(device)].local[id]
			got, observed := last[id]
			if !observed && want {
				t.Fatalf("seed %d: observer never saw %s connect", seed, id)
			}
			if observed && got != want {
				t.Fatalf("seed %d: observer last saw %s present=%v, want %v", seed, id, got, want)
			}
		}
	}
}

// relink brings e's link up if it is down: queued presence first,
// then a connection for every local device.
func relink(sim *presenceSim, e *simEdge, name string, accountOf, deviceID func(int) string, devices int) {
	if e.session != nil {
		return
	}
	e.session, _ = sim.join(name)
	for _, message := range e.queue {
		sim.deliver(e.session, message)
	}
	e.queue = nil
	for device := range devices {
		id := deviceID(device)
		if e.local[id] {
			sim.deliver(e.session, &signal.Connection{AccountID: accountOf(device), DeviceID: id, DeviceName: id})
		}
	}
}

func checkAlternation(t *testing.T, messages []signal.Message, where string) {
	t.Helper()
	present := make(map[string]bool)
	for i, message := range messages {
		switch m := message.(type) {
		case *signal.Connection:
			if present[m.DeviceID] {
				t.Fatalf("%s: event %d repeats connection of %s", where, i, m.DeviceID)
			}
			present[m.DeviceID] = true
		case *signal.Disconnection:
			if seen, ok := present[m.DeviceID]; ok && !seen {
				t.Fatalf("%s: event %d repeats disconnection of %s", where, i, m.DeviceID)
			}
			present[m.DeviceID] = false
		}
	}
}

func lastPresence(messages []signal.Message) map[string]bool {
	last := make(map[string]bool)
	for _, message := range messages {
		switch m := message.(type) {
		case *signal.Connection:
			last[m.DeviceID] = true
		case *signal.Disconnection:
			last[m.DeviceID] = false
		}
	}
	return last
}
