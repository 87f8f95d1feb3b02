// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"fmt"
	"sync"
)

// Outbox is a size-bounded FIFO of encoded envelopes bound for the
// relay. When a Push would exceed the byte limit the oldest entries
// are dropped until the new one fits.
//
// The drainer peeks at the front entry, writes it, and pops it only
// after the write succeeded. Pop names the entry it saw, so an entry
// evicted mid-write never takes an unsent successor with it.
type Outbox struct {
	mu        sync.Mutex
	entries   []outboxEntry
	nextSeq   uint64
	totalSize int
	maxSize   int
	dropped   uint64
	notify    chan struct{}
}

type outboxEntry struct {
	seq  uint64
	data []byte
}

// NewOutbox creates an Outbox holding at most maxSize bytes.
func NewOutbox(maxSize int) *Outbox {
	if maxSize <= 0 {
		panic(fmt.Sprintf("outbox: maxSize must be positive, got %d", maxSize))
	}
	return &Outbox{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push appends an envelope.
func (o *Outbox) Push(data []byte) error {
	size := len(data)
	if size > o.maxSize {
		return fmt.Errorf("outbox: entry size %d exceeds capacity %d", size, o.maxSize)
	}
	if size == 0 {
		return fmt.Errorf("outbox: refusing to push empty entry")
	}

	o.mu.Lock()
	for o.totalSize+size > o.maxSize && len(o.entries) > 0 {
		o.removeFront()
		o.dropped++
	}
	o.nextSeq++
	o.entries = append(o.entries, outboxEntry{seq: o.nextSeq, data: data})
	o.totalSize += size
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the oldest envelope and its sequence number, or nil
// when empty.
func (o *Outbox) Peek() (seq uint64, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 {
		return 0, nil
	}
	return o.entries[0].seq, o.entries[0].data
}

// Pop removes the oldest envelope if it is still the one Peek
// returned as seq. It reports whether anything was removed.
func (o *Outbox) Pop(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 || o.entries[0].seq != seq {
		return false
	}
	o.removeFront()
	return true
}

func (o *Outbox) removeFront() {
	o.totalSize -= len(o.entries[0].data)
	o.entries[0] = outboxEntry{}
	o.entries = o.entries[1:]
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Dropped counts entries evicted by overflow.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Notify receives a value after a Push.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}
