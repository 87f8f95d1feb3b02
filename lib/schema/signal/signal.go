// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Type is the envelope discriminator.
type Type string

const (
	TypeAuth                Type = "auth"
	TypeAuthResult          Type = "auth-result"
	TypeDevices             Type = "devices"
	TypeConnection          Type = "connection"
	TypeDisconnection       Type = "disconnection"
	TypeNameChange          Type = "name-change"
	TypeBroadcast           Type = "broadcast"
	TypeBroadcastAll        Type = "broadcast-all"
	TypePing                Type = "ping"
	TypePong                Type = "pong"
	TypeShareCreate         Type = "share-create"
	TypeShareCreated        Type = "share-created"
	TypeShareSignal         Type = "share-signal"
	TypeShareGuestJoin      Type = "share-guest-join"
	TypeShareGuestConnected Type = "share-guest-connected"
	TypeShareGuestAccepted  Type = "share-guest-accepted"
	TypeShareStatus         Type = "share-status"
	TypeShareClose          Type = "share-close"
	TypeShareError          Type = "share-error"

	// The transfer handshake runs over a peer link, not the relay
	// tier, but shares the envelope.
	TypeFileMetadata Type = "file-metadata"
	TypeFileAccept   Type = "file-accept"
	TypeFileReject   Type = "file-reject"
)

var (
	// ErrUnknownType is returned by Decode for an envelope whose type
	// is not part of the protocol.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformed is returned by Decode for invalid JSON, a data
	// payload that does not match the type, or a missing required
	// field.
	ErrMalformed = errors.New("malformed message")
)

// Envelope is the wire form of every message.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Message is implemented by the pointer types in this package and by
// nothing else.
type Message interface {
	Type() Type
	validate() error
}

// newMessage returns an empty message for t, or nil for an unknown
// type. Every Type constant must appear here.
func newMessage(t Type) Message {
	switch t {
	case TypeAuth:
		return &Auth{}
	case TypeAuthResult:
		return &AuthResult{}
	case TypeDevices:
		return &Devices{}
	case TypeConnection:
		return &Connection{}
	case TypeDisconnection:
		return &Disconnection{}
	case TypeNameChange:
		return &NameChange{}
	case TypeBroadcast:
		return &Broadcast{}
	case TypeBroadcastAll:
		return &BroadcastAll{}
	case TypePing:
		return &Ping{}
	case TypePong:
		return &Pong{}
	case TypeShareCreate:
		return &ShareCreate{}
	case TypeShareCreated:
		return &ShareCreated{}
	case TypeShareSignal:
		return &ShareSignal{}
	case TypeShareGuestJoin:
		return &ShareGuestJoin{}
	case TypeShareGuestConnected:
		return &ShareGuestConnected{}
	case TypeShareGuestAccepted:
		return &ShareGuestAccepted{}
	case TypeShareStatus:
		return &ShareStatus{}
	case TypeShareClose:
		return &ShareClose{}
	case TypeShareError:
		return &ShareError{}
	case TypeFileMetadata:
		return &FileOffer{}
	case TypeFileAccept:
		return &FileAccept{}
	case TypeFileReject:
		return &FileReject{}
	default:
		return nil
	}
}

// Decode parses one envelope. The returned request ID is empty when
// the envelope carried none.
func Decode(raw []byte) (Message, string, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return nil, envelope.RequestID, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	message := newMessage(envelope.Type)
	if message == nil {
		return nil, envelope.RequestID, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, message); err != nil {
			return nil, envelope.RequestID, fmt.Errorf("%w: %s: %v", ErrMalformed, envelope.Type, err)
		}
	}
	if err := message.validate(); err != nil {
		return nil, envelope.RequestID, fmt.Errorf("%w: %s: %v", ErrMalformed, envelope.Type, err)
	}
	return message, envelope.RequestID, nil
}

// Encode serializes message in an envelope.
func Encode(message Message, requestID string) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("signal: encoding %s: %w", message.Type(), err)
	}
	if string(data) == "{}" {
		data = nil
	}
	return json.Marshal(Envelope{Type: message.Type(), Data: data, RequestID: requestID})
}

// MustEncode is Encode for messages built from known-good values.
// It panics on error.
func MustEncode(message Message, requestID string) []byte {
	data, err := Encode(message, requestID)
	if err != nil {
		panic(err)
	}
	return data
}

// require reports every empty field, in name order.
func require(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s is required", missing[0])
	}
	slices.Sort(missing)
	return fmt.Errorf("%s are required", strings.Join(missing, ", "))
}
