// Package signaling holds the identity broker wire protocol and the client
// side of it.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message is every websocket frame exchanged with the broker.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Code    string          `json:"code,omitempty"`
	Peer    string          `json:"peer,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeBind   = "bind"
	MessageTypeSignal = "signal"

	MessageTypeBound = "bound"
	MessageTypeError = "error"
)

// Error codes carried by error messages.
const (
	CodeIdentityTaken   = "identity-taken"
	CodeInvalidID       = "invalid-id"
	CodeAlreadyBound    = "already-bound"
	CodeNotBound        = "not-bound"
	CodePeerUnavailable = "peer-unavailable"
	CodeBadMessage      = "bad-message"
)

// Signal payload types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Connection kinds. A data connection carries the control channel, a media
// connection carries one source.
const (
	KindData  = "data"
	KindMedia = "media"
)

// SignalPayload is the WebRTC negotiation data relayed between identities.
type SignalPayload struct {
	Type         string                   `json:"type"`
	ConnectionID string                   `json:"connection_id"`
	Kind         string                   `json:"kind,omitempty"`
	SDP          string                   `json:"sdp,omitempty"`
	ICECandidate *webrtc.ICECandidateInit `json:"ice_candidate,omitempty"`

	// Metadata is the msgpack-encoded peer info or media tag of an offer.
	Metadata []byte `json:"metadata,omitempty"`
}

// NewSignal builds a signal message addressed to to.
func NewSignal(to string, p SignalPayload) (*Message, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeSignal, To: to, Payload: raw}, nil
}

// Signal decodes the payload of a signal message.
func (m *Message) Signal() (*SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ErrorMessage builds an error reply.
func ErrorMessage(code, text string) *Message {
	return &Message{Type: MessageTypeError, Code: code, Error: text}
}
