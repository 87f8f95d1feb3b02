// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryNetwork connects in-process links. Negotiation still runs
// through Signal values, so the signaling path under test is the real
// one; only the media layer is simulated.
//
// Delivery can be suspended with [MemoryNetwork.Hold], which lets
// BufferedAmount grow the way a congested SCTP association would.
type MemoryNetwork struct {
	mu     sync.Mutex
	offers map[string]*memoryOffer
	links  map[*memoryLink]struct{}
	next   uint64

	partitioned map[[2]string]bool

	holdMu sync.Mutex
	hold   *sync.Cond
	held   bool
}

type memoryOffer struct {
	offerer  *memoryLink
	answerer *memoryLink
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	n := &MemoryNetwork{
		offers:      make(map[string]*memoryOffer),
		links:       make(map[*memoryLink]struct{}),
		partitioned: make(map[[2]string]bool),
	}
	n.hold = sync.NewCond(&n.holdMu)
	return n
}

// Endpoint returns a Factory whose links originate at localID.
func (n *MemoryNetwork) Endpoint(localID string) Factory {
	return memoryEndpoint{network: n, localID: localID}
}

// Hold suspends message delivery on every channel. Sends still
// succeed and accumulate in BufferedAmount.
func (n *MemoryNetwork) Hold() {
	n.holdMu.Lock()
	n.held = true
	n.holdMu.Unlock()
}

// Release resumes delivery after Hold.
func (n *MemoryNetwork) Release() {
	n.holdMu.Lock()
	n.held = false
	n.hold.Broadcast()
	n.holdMu.Unlock()
}

func (n *MemoryNetwork) waitReleased() {
	n.holdMu.Lock()
	for n.held {
		n.hold.Wait()
	}
	n.holdMu.Unlock()
}

// Break fails every connected link between a and b as if the path
// between them vanished: channels close and both sides observe
// StateFailed. The links must still be closed by their owners.
func (n *MemoryNetwork) Break(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for link := range n.links {
		if link.peer == nil || link.localID != a || link.remoteID != b {
			continue
		}
		peer := link.peer
		link.severLocked(StateFailed)
		peer.severLocked(StateFailed)
	}
}

// Partition makes every negotiation between a and b fail when the
// answer arrives, until Heal. Links already connected are untouched.
func (n *MemoryNetwork) Partition(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[pairKey(a, b)] = true
}

// Heal undoes Partition.
func (n *MemoryNetwork) Heal(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, pairKey(a, b))
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Links reports how many links are open. Tests use it to check that
// torn-down peers released their links.
func (n *MemoryNetwork) Links() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links)
}

type memoryEndpoint struct {
	network *MemoryNetwork
	localID string
}

func (e memoryEndpoint) NewLink(remoteID string, handler Handler) (Link, error) {
	link := &memoryLink{
		network:  e.network,
		localID:  e.localID,
		remoteID: remoteID,
		handler:  handler,
		events:   newEventQueue(),
		channels: make(map[*memoryChannel]struct{}),
	}
	e.network.mu.Lock()
	e.network.links[link] = struct{}{}
	e.network.mu.Unlock()
	return link, nil
}

// memoryLink state is guarded by network.mu.
type memoryLink struct {
	network  *MemoryNetwork
	localID  string
	remoteID string
	handler  Handler
	events   *eventQueue

	peer     *memoryLink
	state    State
	token    string
	pending  []string
	channels map[*memoryChannel]struct{}
	closed   bool
}

func (l *memoryLink) setStateLocked(state State) {
	if l.state == state {
		return
	}
	l.state = state
	if l.handler.StateChange != nil {
		l.events.push(func() { l.handler.StateChange(state) })
	}
}

func (l *memoryLink) signalLocked(signal Signal) {
	if l.handler.Signal != nil {
		l.events.push(func() { l.handler.Signal(signal) })
	}
}

func (l *memoryLink) CreateChannel(label string) error {
	n := l.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.peer == nil {
		l.pending = append(l.pending, label)
		return nil
	}
	l.openPairLocked(label)
	return nil
}

func (l *memoryLink) Offer(ctx context.Context) error {
	n := l.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	n.next++
	l.token = fmt.Sprintf("memory:%d", n.next)
	n.offers[l.token] = &memoryOffer{offerer: l}
	l.setStateLocked(StateConnecting)
	l.signalLocked(Signal{Kind: SignalOffer, SDP: l.token})
	l.signalLocked(Signal{Kind: SignalCandidate, Candidate: &Candidate{Candidate: "candidate:" + l.localID}})
	return ctx.Err()
}

func (l *memoryLink) HandleSignal(ctx context.Context, signal Signal) error {
	n := l.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	switch signal.Kind {
	case SignalOffer:
		offer, ok := n.offers[signal.SDP]
		if !ok || offer.offerer.closed {
			return fmt.Errorf("unknown offer %q", signal.SDP)
		}
		offer.answerer = l
		l.token = signal.SDP
		l.setStateLocked(StateConnecting)
		l.signalLocked(Signal{Kind: SignalAnswer, SDP: signal.SDP})
		return ctx.Err()

	case SignalAnswer:
		offer, ok := n.offers[signal.SDP]
		if !ok || offer.offerer != l || offer.answerer == nil {
			return fmt.Errorf("unexpected answer %q", signal.SDP)
		}
		delete(n.offers, signal.SDP)
		if offer.answerer.closed {
			l.setStateLocked(StateFailed)
			return nil
		}
		if n.partitioned[pairKey(l.localID, l.remoteID)] {
			l.setStateLocked(StateFailed)
			offer.answerer.setStateLocked(StateFailed)
			return nil
		}
		connectLocked(l, offer.answerer)
		return ctx.Err()

	case SignalCandidate:
		if signal.Candidate == nil {
			return fmt.Errorf("candidate signal without candidate")
		}
		return nil

	default:
		return fmt.Errorf("unknown signal kind %q", signal.Kind)
	}
}

func connectLocked(a, b *memoryLink) {
	a.peer = b
	b.peer = a
	a.setStateLocked(StateConnected)
	b.setStateLocked(StateConnected)
	for _, link := range []*memoryLink{a, b} {
		pending := link.pending
		link.pending = nil
		for _, label := range pending {
			link.openPairLocked(label)
		}
	}
}

// openPairLocked creates both ends of a channel and announces them.
func (l *memoryLink) openPairLocked(label string) {
	local := newMemoryChannel(l, label)
	remote := newMemoryChannel(l.peer, label)
	local.peer = remote
	remote.peer = local
	l.channels[local] = struct{}{}
	l.peer.channels[remote] = struct{}{}
	local.start()
	remote.start()
	if handler := l.handler.ChannelOpen; handler != nil {
		l.events.push(func() { handler(local) })
	}
	if handler := l.peer.handler.ChannelOpen; handler != nil {
		l.peer.events.push(func() { handler(remote) })
	}
}

// severLocked closes every channel of l and detaches it from its
// peer, reporting state to l only.
func (l *memoryLink) severLocked(state State) {
	for channel := range l.channels {
		channel.shutdownLocked()
	}
	l.peer = nil
	l.setStateLocked(state)
}

func (l *memoryLink) Close() error {
	n := l.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.events.close()
	if peer := l.peer; peer != nil {
		l.severLocked(StateClosed)
		peer.severLocked(StateDisconnected)
	}
	if l.token != "" {
		if offer, ok := n.offers[l.token]; ok && offer.offerer == l {
			delete(n.offers, l.token)
		}
	}
	delete(n.links, l)
	return nil
}

type memoryChannel struct {
	link  *memoryLink
	label string
	peer  *memoryChannel

	buffered atomic.Uint64

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	open   bool
	closed bool
}

func newMemoryChannel(link *memoryLink, label string) *memoryChannel {
	c := &memoryChannel{link: link, label: label, open: true}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *memoryChannel) start() { go c.deliver() }

// deliver hands queued messages to the peer end in order.
func (c *memoryChannel) deliver() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		message := c.queue[0]
		c.queue[0] = Message{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.link.network.waitReleased()

		peer := c.peer
		peer.mu.Lock()
		peerOpen := peer.open
		peer.mu.Unlock()
		if peerOpen && peer.link.handler.Message != nil {
			handler := peer.link.handler.Message
			peer.link.events.push(func() { handler(peer, message) })
		}
		c.mu.Lock()
		if !c.closed {
			c.buffered.Add(-uint64(len(message.Data)))
		}
		c.mu.Unlock()
	}
}

func (c *memoryChannel) Label() string { return c.label }

func (c *memoryChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *memoryChannel) enqueue(message Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrClosed
	}
	c.buffered.Add(uint64(len(message.Data)))
	c.queue = append(c.queue, message)
	c.cond.Signal()
	return nil
}

func (c *memoryChannel) Send(data []byte) error {
	return c.enqueue(Message{Data: append([]byte(nil), data...)})
}

func (c *memoryChannel) SendText(text string) error {
	return c.enqueue(Message{Data: []byte(text), Text: true})
}

func (c *memoryChannel) BufferedAmount() uint64 { return c.buffered.Load() }

// Close closes both ends of the channel.
func (c *memoryChannel) Close() error {
	n := c.link.network
	n.mu.Lock()
	defer n.mu.Unlock()
	c.shutdownLocked()
	if c.peer != nil {
		c.peer.shutdownLocked()
	}
	return nil
}

// shutdownLocked closes this end and reports it to its link. Requires
// network.mu.
func (c *memoryChannel) shutdownLocked() {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.closed = true
	c.queue = nil
	c.buffered.Store(0)
	c.cond.Broadcast()
	c.mu.Unlock()

	if !wasOpen {
		return
	}
	delete(c.link.channels, c)
	if handler := c.link.handler.ChannelClosed; handler != nil {
		c.link.events.push(func() { handler(c) })
	}
}
