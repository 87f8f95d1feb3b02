// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

type rosterEntry struct {
	edge    uint64
	account string
	name    string
}

// roster maps edge -> account -> device set, with a device index that
// keeps each device under at most one edge. Owned by the actor; not
// safe for concurrent use.
type roster struct {
	edges   map[uint64]map[string]mapset.Set[string]
	devices map[string]rosterEntry
}

func newRoster() *roster {
	return &roster{
		edges:   make(map[uint64]map[string]mapset.Set[string]),
		devices: make(map[string]rosterEntry),
	}
}

type connectChange int

const (
	connectAdded connectChange = iota

	// connectUnchanged: the device was already rostered under the same
	// edge, account and name.
	connectUnchanged

	// connectMoved: the device was rostered under another edge.
	connectMoved

	// connectUpdated: same edge, but the account or name differs.
	connectUpdated
)

// connect records device under edge. A device already rostered under
// another edge is moved; the previous edge is returned.
func (r *roster) connect(edge uint64, account, device, name string) (previous uint64, change connectChange) {
	if entry, ok := r.devices[device]; ok {
		if entry == (rosterEntry{edge: edge, account: account, name: name}) {
			return entry.edge, connectUnchanged
		}
		r.remove(entry.edge, entry.account, device)
		previous, change = entry.edge, connectUpdated
		if entry.edge != edge {
			change = connectMoved
		}
	}
	accounts := r.edges[edge]
	if accounts == nil {
		accounts = make(map[string]mapset.Set[string])
		r.edges[edge] = accounts
	}
	set := accounts[account]
	if set == nil {
		set = mapset.NewThreadUnsafeSet[string]()
		accounts[account] = set
	}
	set.Add(device)
	r.devices[device] = rosterEntry{edge: edge, account: account, name: name}
	return previous, change
}

// disconnect removes device if edge still holds it. A disconnection
// from an edge the device has since moved away from is stale and
// reports false.
func (r *roster) disconnect(edge uint64, account, device string) (rosterEntry, bool) {
	entry, ok := r.devices[device]
	if !ok || entry.edge != edge || entry.account != account {
		return rosterEntry{}, false
	}
	r.remove(edge, account, device)
	delete(r.devices, device)
	return entry, true
}

func (r *roster) remove(edge uint64, account, device string) {
	accounts := r.edges[edge]
	if accounts == nil {
		return
	}
	set := accounts[account]
	if set == nil {
		return
	}
	set.Remove(device)
	if set.Cardinality() == 0 {
		delete(accounts, account)
	}
	if len(accounts) == 0 {
		delete(r.edges, edge)
	}
}

// rename updates the cached display name. Reports false for a device
// that is not rostered under account.
func (r *roster) rename(account, device, name string) bool {
	entry, ok := r.devices[device]
	if !ok || entry.account != account {
		return false
	}
	entry.name = name
	r.devices[device] = entry
	return true
}

// locate returns the edge holding device, if it belongs to account.
func (r *roster) locate(account, device string) (uint64, bool) {
	entry, ok := r.devices[device]
	if !ok || entry.account != account {
		return 0, false
	}
	return entry.edge, true
}

// edgesOf returns the edges holding at least one device of account,
// in ascending order.
func (r *roster) edgesOf(account string) []uint64 {
	var edges []uint64
	for edge, accounts := range r.edges {
		if set := accounts[account]; set != nil && set.Cardinality() > 0 {
			edges = append(edges, edge)
		}
	}
	slices.Sort(edges)
	return edges
}

// devicesOf returns every rostered device of account, sorted by
// device ID.
func (r *roster) devicesOf(account string) []signal.Device {
	var devices []signal.Device
	for _, accounts := range r.edges {
		set := accounts[account]
		if set == nil {
			continue
		}
		for device := range set.Iter() {
			devices = append(devices, signal.Device{
				AccountID:  account,
				DeviceID:   device,
				DeviceName: r.devices[device].name,
			})
		}
	}
	slices.SortFunc(devices, func(a, b signal.Device) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return devices
}

// dropEdge purges every device held by edge and returns them.
func (r *roster) dropEdge(edge uint64) []signal.Device {
	accounts := r.edges[edge]
	delete(r.edges, edge)
	var purged []signal.Device
	for account, set := range accounts {
		for device := range set.Iter() {
			purged = append(purged, signal.Device{
				AccountID:  account,
				DeviceID:   device,
				DeviceName: r.devices[device].name,
			})
			delete(r.devices, device)
		}
	}
	slices.SortFunc(purged, func(a, b signal.Device) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return purged
}

// size returns the number of rostered devices.
func (r *roster) size() int {
	return len(r.devices)
}
