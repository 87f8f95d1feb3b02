// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer manages direct links to other devices.
//
// A [Manager] owns one link per remote device, keyed by device ID. The
// initiating side opens a pool of ordered channels (labels data-0 ..
// data-(N-1)) before negotiating; the responding side adopts channels
// as they arrive, mapping each label to its slot. Callers address a
// channel by [ChannelHandle], a (device ID, slot) pair, never by
// holding the channel itself.
//
// Abnormal link termination bumps a per-device counter. While the
// device is still wanted and the counter is within the retry limit the
// manager renegotiates as initiator; past the limit the device is torn
// down until the next explicit [Manager.Connect].
//
// Negotiation messages travel through a [Signaler], normally the relay
// client.
package peer
