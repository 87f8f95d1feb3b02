// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"

	"github.com/peerdrop/peerdrop/transport"
)

// Next picks the channel for remoteID's next message: the slot after
// the previous pick, or the first open slot if that one is closed.
func (m *Manager) Next(remoteID string) (ChannelHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl := m.links[remoteID]
	if pl == nil {
		return ChannelHandle{}, fmt.Errorf("%w: %s", ErrNotConnected, remoteID)
	}
	slot := int(pl.next % uint64(len(pl.slots)))
	pl.next++
	if channel := pl.slots[slot]; channel != nil && channel.Open() {
		return ChannelHandle{DeviceID: remoteID, Slot: slot}, nil
	}
	slot, ok := firstOpen(pl)
	if !ok {
		return ChannelHandle{}, ErrNoChannels
	}
	return ChannelHandle{DeviceID: remoteID, Slot: slot}, nil
}

func firstOpen(pl *peerLink) (int, bool) {
	for slot, channel := range pl.slots {
		if channel != nil && channel.Open() {
			return slot, true
		}
	}
	return 0, false
}

// resolve returns the channel behind handle, falling back to the first
// open slot when the named one has closed.
func (m *Manager) resolve(handle ChannelHandle) (transport.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl := m.links[handle.DeviceID]
	if pl == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, handle.DeviceID)
	}
	if handle.Slot >= 0 && handle.Slot < len(pl.slots) {
		if channel := pl.slots[handle.Slot]; channel != nil && channel.Open() {
			return channel, nil
		}
	}
	slot, ok := firstOpen(pl)
	if !ok {
		return nil, ErrNoChannels
	}
	return pl.slots[slot], nil
}

// Send queues message on remoteID's next channel.
func (m *Manager) Send(remoteID string, message transport.Message) error {
	handle, err := m.Next(remoteID)
	if err != nil {
		return err
	}
	channel, err := m.resolve(handle)
	if err != nil {
		return err
	}
	if message.Text {
		err = channel.SendText(string(message.Data))
	} else {
		err = channel.Send(message.Data)
	}
	if err != nil {
		return fmt.Errorf("sending to %s on %s: %w", remoteID, channel.Label(), err)
	}
	return nil
}

// SendChunk queues data on the handle's channel once its buffered
// amount is at or below the high-water mark, polling until it is.
// Nothing is dropped: the call either queues data or returns an error.
func (m *Manager) SendChunk(ctx context.Context, handle ChannelHandle, data []byte) error {
	for {
		channel, err := m.resolve(handle)
		if err != nil {
			return err
		}
		if channel.BufferedAmount() <= m.config.HighWaterMark {
			if err := channel.Send(data); err != nil {
				return fmt.Errorf("sending chunk to %s on %s: %w", handle.DeviceID, channel.Label(), err)
			}
			return nil
		}
		select {
		case <-m.config.Clock.After(m.config.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
