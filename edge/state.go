// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

// sender is the outbound half of a device socket. *wsconn.Conn
// implements it.
type sender interface {
	Send(data []byte) error
	CloseWith(code int, reason string)
	Close() error
}

type connPhase int

const (
	phaseUnauthenticated connPhase = iota

	// phaseAuthenticating: rostered, auth-result not yet sent.
	// Deliveries are held in deferred.
	phaseAuthenticating

	phaseAuthenticated
	phaseClosed
)

// deviceConn is one device socket. Identity and phase fields are
// guarded by RelayState.mu.
type deviceConn struct {
	id     uint64
	out    sender
	logger *slog.Logger

	phase       connPhase
	accountID   string
	deviceID    string
	deviceName  string
	shareExempt bool
	deferred    [][]byte

	authTimer *clock.Timer

	heartbeat    sync.Mutex
	pongDeadline *clock.Timer
}

// RelayState is the edge's connection table and local roster. Every
// connection has a stable uint64 ID; the roster maps a device ID to
// the connection currently speaking for it.
type RelayState struct {
	mu       sync.Mutex
	nextID   uint64
	conns    map[uint64]*deviceConn
	roster   map[string]uint64
	accounts map[string]mapset.Set[uint64]
}

func NewRelayState() *RelayState {
	return &RelayState{
		conns:    make(map[uint64]*deviceConn),
		roster:   make(map[string]uint64),
		accounts: make(map[string]mapset.Set[uint64]),
	}
}

func (s *RelayState) add(out sender, logger *slog.Logger) *deviceConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &deviceConn{id: s.nextID, out: out, logger: logger.With("conn_id", s.nextID)}
	s.conns[c.id] = c
	return c
}

// register binds c to a device and rosters it. A connection that
// previously held the device is returned so the caller can close it;
// its own cleanup will find the roster no longer points at it.
func (s *RelayState) register(c *deviceConn, accountID, deviceID, deviceName string) (superseded *deviceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.roster[deviceID]; ok && previous != c.id {
		superseded = s.conns[previous]
		if superseded != nil {
			if old := s.accounts[superseded.accountID]; old != nil {
				old.Remove(previous)
				if old.Cardinality() == 0 {
					delete(s.accounts, superseded.accountID)
				}
			}
		}
	}
	c.accountID = accountID
	c.deviceID = deviceID
	c.deviceName = deviceName
	c.phase = phaseAuthenticating
	s.roster[deviceID] = c.id
	set := s.accounts[accountID]
	if set == nil {
		set = mapset.NewThreadUnsafeSet[uint64]()
		s.accounts[accountID] = set
	}
	set.Add(c.id)
	return superseded
}

// activate marks c authenticated and flushes deliveries held while it
// was authenticating, in arrival order.
func (s *RelayState) activate(c *deviceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.phase != phaseAuthenticating {
		return
	}
	c.phase = phaseAuthenticated
	for _, data := range c.deferred {
		c.out.Send(data)
	}
	c.deferred = nil
}

// remove drops c. rostered reports whether c still held its device,
// in which case the device has left and siblings must be told.
func (s *RelayState) remove(c *deviceConn) (identity signal.Device, rostered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.phase == phaseClosed {
		return signal.Device{}, false
	}
	wasRostered := c.phase == phaseAuthenticating || c.phase == phaseAuthenticated
	c.phase = phaseClosed
	c.deferred = nil
	delete(s.conns, c.id)
	if !wasRostered || s.roster[c.deviceID] != c.id {
		return signal.Device{}, false
	}
	delete(s.roster, c.deviceID)
	if set := s.accounts[c.accountID]; set != nil {
		set.Remove(c.id)
		if set.Cardinality() == 0 {
			delete(s.accounts, c.accountID)
		}
	}
	return signal.Device{AccountID: c.accountID, DeviceID: c.deviceID, DeviceName: c.deviceName}, true
}

func (s *RelayState) deliverLocked(c *deviceConn, data []byte) bool {
	switch c.phase {
	case phaseClosed:
		return false
	case phaseAuthenticating:
		c.deferred = append(c.deferred, data)
		return true
	default:
		return c.out.Send(data) == nil
	}
}

// deliver sends data to connection id.
func (s *RelayState) deliver(id uint64, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conns[id]
	if c == nil {
		return false
	}
	return s.deliverLocked(c, data)
}

// deliverDevice sends data to the local socket of deviceID if it
// belongs to accountID.
func (s *RelayState) deliverDevice(accountID, deviceID string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.roster[deviceID]
	if !ok {
		return false
	}
	c := s.conns[id]
	if c == nil || c.accountID != accountID {
		return false
	}
	return s.deliverLocked(c, data)
}

// deliverAccount sends data to every local device of accountID except
// except, and returns how many received it.
func (s *RelayState) deliverAccount(accountID, except string, data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.accounts[accountID]
	if set == nil {
		return 0
	}
	delivered := 0
	for _, id := range set.ToSlice() {
		c := s.conns[id]
		if c == nil || c.deviceID == except {
			continue
		}
		if s.deliverLocked(c, data) {
			delivered++
		}
	}
	return delivered
}

func (s *RelayState) authenticated(c *deviceConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.phase == phaseAuthenticated
}

// identity returns c's account, device and name.
func (s *RelayState) identity(c *deviceConn) signal.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return signal.Device{AccountID: c.accountID, DeviceID: c.deviceID, DeviceName: c.deviceName}
}

// needsAuth reports whether c is still subject to the auth deadline.
func (s *RelayState) needsAuth(c *deviceConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.phase == phaseUnauthenticated && !c.shareExempt
}

func (s *RelayState) exemptFromAuth(c *deviceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.shareExempt = true
}

func (s *RelayState) rename(c *deviceConn, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.deviceName = name
}

// alive reports whether connection id is still open.
func (s *RelayState) alive(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[id]
	return ok
}

// Devices returns the rostered devices, sorted by device ID.
func (s *RelayState) Devices() []signal.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := make([]signal.Device, 0, len(s.roster))
	for _, id := range s.roster {
		c := s.conns[id]
		if c == nil {
			continue
		}
		devices = append(devices, signal.Device{AccountID: c.accountID, DeviceID: c.deviceID, DeviceName: c.deviceName})
	}
	slices.SortFunc(devices, func(a, b signal.Device) int {
		return strings.Compare(a.DeviceID, b.DeviceID)
	})
	return devices
}

// Len returns the number of open connections.
func (s *RelayState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll closes every connection.
func (s *RelayState) closeAll(code int, reason string) {
	s.mu.Lock()
	conns := make([]*deviceConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.out.CloseWith(code, reason)
	}
}
