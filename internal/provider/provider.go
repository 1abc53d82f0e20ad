// Package provider defines the identity and transport boundary the session
// layer runs on. An implementation gives each instance an addressable
// identity, optionally a specific one, and opens reliable and media channels
// between identities.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	// ErrIdentityTaken is returned by Bind when another instance holds the id.
	ErrIdentityTaken = errors.New("identity already taken")
	ErrUnknownPeer   = errors.New("peer unavailable")
	ErrClosed        = errors.New("endpoint closed")
)

// Provider hands out endpoints.
type Provider interface {
	// Bind registers this instance under id. An empty id asks the provider
	// to assign one.
	Bind(ctx context.Context, id string) (Endpoint, error)
}

// Endpoint is a bound identity.
type Endpoint interface {
	ID() string

	// Dial opens a reliable channel to remote and returns once it is open.
	Dial(ctx context.Context, remote string, info protocol.PeerInfo) (Link, error)

	// Call opens a media channel carrying stream to remote.
	Call(ctx context.Context, remote string, tag MediaTag, stream capture.Stream) (Media, error)

	// Links delivers inbound reliable channels once they are open.
	Links() <-chan Link

	// Media delivers inbound media channels.
	Media() <-chan Media

	// Events reports provider-level connectivity changes.
	Events() <-chan Event

	// Reconnect re-establishes the provider connection under the same id.
	Reconnect(ctx context.Context) error

	Close() error
}

// Link is a reliable ordered message channel between two identities.
type Link interface {
	Remote() string
	Info() protocol.PeerInfo
	Send(data []byte) error
	Receive() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

// Media is one inbound or outbound media channel.
type Media interface {
	Remote() string
	Tag() MediaTag
	Done() <-chan struct{}
	Close() error
}

// MediaTag is attached to a media channel when it is opened.
type MediaTag struct {
	SourceID string              `msgpack:"sourceId"`
	Kind     string              `msgpack:"kind"`
	Device   protocol.DeviceInfo `msgpack:"deviceInfo"`
}

// EventKind classifies provider events.
type EventKind int

const (
	EventDisconnected EventKind = iota
	EventReconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// Event is a provider-level connectivity change.
type Event struct {
	Kind EventKind
	Err  error
}

// ReconnectDelay is the pause before each reconnection attempt.
const ReconnectDelay = 3 * time.Second

// Reconnect retries ep.Reconnect every delay until it succeeds or ctx ends.
func Reconnect(ctx context.Context, ep Endpoint, delay time.Duration, log zerolog.Logger) error {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err := ep.Reconnect(ctx)
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("provider connection restored")
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}
}
