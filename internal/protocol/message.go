package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Control message types exchanged over the reliable channel.
const (
	TypePeerInfo         = "peer-info"
	TypeSourceSubmitted  = "source-submitted"
	TypeSourceStatus     = "source-status"
	TypeSourceEnded      = "source-ended"
	TypeHostRemoveSource = "host-remove-source"
	TypeKick             = "kick"
)

// Source status values carried by source-status.
const (
	StatusLive   = "live"
	StatusHidden = "hidden"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("malformed payload")
)

// Message represents all control channel messages
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// PeerInfo is the human-readable device description each side announces.
type PeerInfo struct {
	Label   string `msgpack:"label"`
	Icon    string `msgpack:"icon"`
	Room    string `msgpack:"room,omitempty"`
	Version string `msgpack:"version,omitempty"`
}

// SourceSubmittedPayload announces media the guest is about to send.
type SourceSubmittedPayload struct {
	SourceID string `msgpack:"sourceId"`
	Kind     string `msgpack:"kind"`
}

// SourceStatusPayload mirrors the host's view of a source.
type SourceStatusPayload struct {
	SourceID string `msgpack:"sourceId"`
	Status   string `msgpack:"status"`
}

// SourceRefPayload names a source for source-ended and host-remove-source.
type SourceRefPayload struct {
	SourceID string `msgpack:"sourceId"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrBadPayload, m.Type)
	}
	if err := msgpack.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, m.Type, err)
	}
	return nil
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}

	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode builds and marshals a message in one step.
func Encode(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("create %s message: %w", t, err)
	}
	return msgpack.Marshal(msg)
}

// Decode unmarshals raw channel bytes and rejects types outside the protocol.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	if !Known(msg.Type) {
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}

// Known reports whether t is part of the control protocol.
func Known(t string) bool {
	switch t {
	case TypePeerInfo, TypeSourceSubmitted, TypeSourceStatus,
		TypeSourceEnded, TypeHostRemoveSource, TypeKick:
		return true
	}
	return false
}
