// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Device describes one connected device in roster snapshots.
type Device struct {
	AccountID  string `json:"accountId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// FileMeta describes a file offered in a share session.
type FileMeta struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size"`
}

// Auth authenticates a device to its edge (Token, or Username and
// Password) or an edge to the relay (EdgeID and Secret).
type Auth struct {
	Token      string `json:"token,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Register   bool   `json:"register,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	EdgeID     string `json:"edgeId,omitempty"`
	Secret     string `json:"secret,omitempty"`
	Version    string `json:"version,omitempty"`
}

func (*Auth) Type() Type { return TypeAuth }

func (m *Auth) validate() error {
	if m.EdgeID != "" {
		return require(map[string]string{"secret": m.Secret})
	}
	if m.DeviceID == "" {
		return errors.New("deviceId is required")
	}
	if m.Token == "" && (m.Username == "" || m.Password == "") {
		return errors.New("token or username and password are required")
	}
	return nil
}

// AuthResult answers Auth. Token is set when the device logged in with
// a username and password and must store the new session.
type AuthResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Token     string `json:"token,omitempty"`
}

func (*AuthResult) Type() Type      { return TypeAuthResult }
func (*AuthResult) validate() error { return nil }

// Devices is both the roster request (Devices empty) and its answer.
// On the edge-relay hop AccountID and DeviceID name the requester.
type Devices struct {
	AccountID string   `json:"accountId,omitempty"`
	DeviceID  string   `json:"deviceId,omitempty"`
	Devices   []Device `json:"devices,omitempty"`
}

func (*Devices) Type() Type      { return TypeDevices }
func (*Devices) validate() error { return nil }

// Connection announces a device coming online.
type Connection struct {
	AccountID  string `json:"accountId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
}

func (*Connection) Type() Type { return TypeConnection }

func (m *Connection) validate() error {
	return require(map[string]string{"accountId": m.AccountID, "deviceId": m.DeviceID})
}

// Disconnection announces a device going offline.
type Disconnection struct {
	AccountID  string `json:"accountId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
}

func (*Disconnection) Type() Type { return TypeDisconnection }

func (m *Disconnection) validate() error {
	return require(map[string]string{"accountId": m.AccountID, "deviceId": m.DeviceID})
}

// NameChange renames a device. Devices send it with only DeviceName;
// edges fill in the identity before fanning it out.
type NameChange struct {
	AccountID  string `json:"accountId,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName"`
}

func (*NameChange) Type() Type { return TypeNameChange }

func (m *NameChange) validate() error {
	return require(map[string]string{"deviceName": m.DeviceName})
}

// Broadcast carries an opaque payload to one device. DeviceID is the
// target; From is filled in by the origin edge.
type Broadcast struct {
	AccountID string          `json:"accountId,omitempty"`
	From      string          `json:"from,omitempty"`
	DeviceID  string          `json:"deviceId"`
	Payload   json.RawMessage `json:"payload"`
}

func (*Broadcast) Type() Type { return TypeBroadcast }

func (m *Broadcast) validate() error {
	return require(map[string]string{"deviceId": m.DeviceID})
}

// BroadcastAll carries an opaque payload to every other device of the
// sender's account.
type BroadcastAll struct {
	AccountID string          `json:"accountId,omitempty"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (*BroadcastAll) Type() Type      { return TypeBroadcastAll }
func (*BroadcastAll) validate() error { return nil }

// Ping is an application-level liveness check.
type Ping struct{}

func (*Ping) Type() Type      { return TypePing }
func (*Ping) validate() error { return nil }

// Pong answers Ping.
type Pong struct{}

func (*Pong) Type() Type      { return TypePong }
func (*Pong) validate() error { return nil }

// ShareCreate opens a share session.
type ShareCreate struct {
	Passcode string     `json:"passcode"`
	Files    []FileMeta `json:"files,omitempty"`
}

func (*ShareCreate) Type() Type { return TypeShareCreate }

func (m *ShareCreate) validate() error {
	return require(map[string]string{"passcode": m.Passcode})
}

// ShareCreated returns the token of a new share session.
type ShareCreated struct {
	Token string `json:"token"`
}

func (*ShareCreated) Type() Type      { return TypeShareCreated }
func (*ShareCreated) validate() error { return nil }

// ShareSignal relays a payload to the other party of a share session.
type ShareSignal struct {
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload"`
}

func (*ShareSignal) Type() Type { return TypeShareSignal }

func (m *ShareSignal) validate() error {
	return require(map[string]string{"token": m.Token})
}

// ShareGuestJoin is a guest presenting a token and passcode.
type ShareGuestJoin struct {
	Token    string `json:"token"`
	Passcode string `json:"passcode"`
}

func (*ShareGuestJoin) Type() Type { return TypeShareGuestJoin }

func (m *ShareGuestJoin) validate() error {
	return require(map[string]string{"token": m.Token})
}

// ShareGuestConnected tells the sharer a guest was admitted.
type ShareGuestConnected struct {
	Token string `json:"token"`
}

func (*ShareGuestConnected) Type() Type      { return TypeShareGuestConnected }
func (*ShareGuestConnected) validate() error { return nil }

// ShareGuestAccepted tells the guest it was admitted and what is
// offered.
type ShareGuestAccepted struct {
	Token string     `json:"token"`
	Files []FileMeta `json:"files,omitempty"`
}

func (*ShareGuestAccepted) Type() Type      { return TypeShareGuestAccepted }
func (*ShareGuestAccepted) validate() error { return nil }

// ShareStatus is the sharer's poll and its answer.
type ShareStatus struct {
	Token        string `json:"token"`
	GuestPresent bool   `json:"guestPresent"`
}

func (*ShareStatus) Type() Type { return TypeShareStatus }

func (m *ShareStatus) validate() error {
	return require(map[string]string{"token": m.Token})
}

// ShareClose destroys a share session.
type ShareClose struct {
	Token string `json:"token"`
}

func (*ShareClose) Type() Type { return TypeShareClose }

func (m *ShareClose) validate() error {
	return require(map[string]string{"token": m.Token})
}

// ShareError reports a failed share operation to its requester.
type ShareError struct {
	Token string `json:"token,omitempty"`
	Error string `json:"error"`
}

func (*ShareError) Type() Type      { return TypeShareError }
func (*ShareError) validate() error { return nil }

// FileOffer proposes a transfer to a peer. Strategy names the data
// path the sender will use: "small" or "large". Receivers pick by
// size when it is absent.
type FileOffer struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Mime     string `json:"mime,omitempty"`
	Size     int64  `json:"size"`
	Strategy string `json:"strategy,omitempty"`
}

func (*FileOffer) Type() Type { return TypeFileMetadata }

func (m *FileOffer) validate() error {
	if m.Size < 0 {
		return errors.New("size must not be negative")
	}
	switch m.Strategy {
	case "", "small", "large":
	default:
		return fmt.Errorf("unknown strategy %q", m.Strategy)
	}
	return require(map[string]string{"fileId": m.FileID, "name": m.Name})
}

// FileAccept admits an offered transfer.
type FileAccept struct {
	FileID string `json:"fileId"`
}

func (*FileAccept) Type() Type { return TypeFileAccept }

func (m *FileAccept) validate() error {
	return require(map[string]string{"fileId": m.FileID})
}

// FileReject declines an offered transfer.
type FileReject struct {
	FileID string `json:"fileId"`
	Reason string `json:"reason,omitempty"`
}

func (*FileReject) Type() Type { return TypeFileReject }

func (m *FileReject) validate() error {
	return require(map[string]string{"fileId": m.FileID})
}
