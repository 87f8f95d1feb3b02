// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
	"github.com/peerdrop/peerdrop/peer"
	"github.com/peerdrop/peerdrop/transfer"
	"github.com/peerdrop/peerdrop/transport"
)

// NodeConfig assembles a device: its edge connection, its peer links
// and its transfer engine.
type NodeConfig struct {
	Client   Config
	Peers    peer.Config
	Transfer transfer.Config

	// Factory creates peer links, usually a *transport.WebRTC.
	Factory transport.Factory
}

// NodeEvents receives what a device user cares about. Nil fields are
// ignored.
type NodeEvents struct {
	Authenticated func(result signal.AuthResult)
	Presence      func(message signal.Message)
	Share         func(message signal.Message)
	PeerReady     func(remoteID string)
	Offer         func(offer transfer.Offer)
	Progress      func(progress transfer.Progress)
	Received      func(result transfer.Result)
}

// Node is a running device. Peer negotiation flows through Client;
// data channel traffic flows between Peers and Transfers.
type Node struct {
	Client    *Client
	Peers     *peer.Manager
	Transfers *transfer.Engine

	events NodeEvents
	logger *slog.Logger
}

// NewNode wires a device together. Call Run to connect it.
func NewNode(config NodeConfig, events NodeEvents) (*Node, error) {
	logger := config.Client.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := &Node{events: events, logger: logger}

	c, err := New(config.Client, Events{
		Authenticated: events.Authenticated,
		Presence:      n.presence,
		Signal:        n.signal,
		Share:         n.share,
	})
	if err != nil {
		return nil, err
	}
	n.Client = c

	peerConfig := config.Peers
	if peerConfig.LocalID == "" {
		peerConfig.LocalID = config.Client.DeviceID
	}
	if peerConfig.LocalID == "" {
		peerConfig.LocalID = uuid.NewString()
	}
	if peerConfig.Logger == nil {
		peerConfig.Logger = logger
	}
	n.Peers = peer.NewManager(peerConfig, config.Factory, c, peer.Events{
		Ready: func(remoteID string) {
			if events.PeerReady != nil {
				events.PeerReady(remoteID)
			}
		},
		Message: func(remoteID string, message transport.Message) {
			n.Transfers.HandleMessage(remoteID, message)
		},
		Closed: func(remoteID string, err error) {
			n.Transfers.PeerClosed(remoteID, err)
		},
	})

	transferConfig := config.Transfer
	if transferConfig.Logger == nil {
		transferConfig.Logger = logger
	}
	n.Transfers = transfer.NewEngine(transferConfig, n.Peers, transfer.Events{
		Offer:    events.Offer,
		Progress: events.Progress,
		Received: events.Received,
	})
	return n, nil
}

// Run purges chunks orphaned by an earlier crash, then keeps the edge
// connection up until ctx is cancelled. Peer links are closed on
// return.
func (n *Node) Run(ctx context.Context) error {
	defer n.Peers.Close()
	if _, err := n.Transfers.PurgeOrphans(ctx); err != nil {
		n.logger.Warn("purging orphaned chunks failed", "error", err)
	}
	return n.Client.Run(ctx)
}

func (n *Node) signal(remoteID string, sig transport.Signal) {
	if err := n.Peers.HandleSignal(context.Background(), remoteID, sig); err != nil {
		n.logger.Warn("peer signal rejected", "remote_id", remoteID, "kind", sig.Kind, "error", err)
	}
}

func (n *Node) presence(message signal.Message) {
	if gone, ok := message.(*signal.Disconnection); ok {
		n.Peers.Disconnect(gone.DeviceID)
	}
	if n.events.Presence != nil {
		n.events.Presence(message)
	}
}

func (n *Node) share(message signal.Message) {
	if closed, ok := message.(*signal.ShareClose); ok {
		n.Peers.Disconnect(SharePrefix + closed.Token)
	}
	if n.events.Share != nil {
		n.events.Share(message)
	}
}
