// Package session decides whether this instance hosts a room or joins it as
// a guest.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/BioHazard786/devicehub/internal/rendezvous"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds both the identity claim and the guest's connection
// to the host.
const DefaultTimeout = 15 * time.Second

type Role int

const (
	RoleHost Role = iota
	RoleGuest
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// Session is the outcome of negotiation. It does not change once returned;
// switching roles takes a new negotiation.
type Session struct {
	Room     rendezvous.Code
	Role     Role
	HostID   string
	Endpoint provider.Endpoint

	// Link is the guest's channel to the host. It is nil for hosts.
	Link provider.Link
}

// Close releases the link and the identity.
func (s *Session) Close() error {
	if s.Link != nil {
		s.Link.Close()
	}
	return s.Endpoint.Close()
}

type Negotiator struct {
	Provider       provider.Provider
	Info           protocol.PeerInfo
	BindTimeout    time.Duration
	ConnectTimeout time.Duration
	Log            zerolog.Logger
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// Negotiate claims the room's host identity. If another instance holds it,
// this instance joins that host as a guest. Provider errors other than an
// identity conflict are returned as ErrProviderFault and never fall back to
// joining.
func (n *Negotiator) Negotiate(ctx context.Context, room string) (*Session, error) {
	code, err := rendezvous.Parse(room)
	if err != nil {
		return nil, NewError("parse room", err)
	}
	hostID := rendezvous.DeriveHostIdentity(code)
	log := n.Log.With().Str("room", code.String()).Logger()

	ep, err := n.bind(ctx, hostID)
	switch {
	case err == nil:
		log.Info().Str("id", hostID).Msg("hosting room")
		return &Session{Room: code, Role: RoleHost, HostID: hostID, Endpoint: ep}, nil
	case !errors.Is(err, provider.ErrIdentityTaken):
		return nil, WrapError("claim host identity", ErrProviderFault, err.Error())
	}

	log.Info().Err(ErrHostIdentityUnavailable).Msg("room already hosted, joining as guest")

	ep, err = n.bind(ctx, "")
	if err != nil {
		return nil, WrapError("bind guest identity", ErrProviderFault, err.Error())
	}

	info := n.Info
	info.Room = code.String()

	dialCtx, cancel := context.WithTimeout(ctx, timeoutOr(n.ConnectTimeout))
	defer cancel()

	link, err := ep.Dial(dialCtx, hostID, info)
	if err != nil {
		ep.Close()
		return nil, WrapError("connect to host", ErrHostUnreachable, err.Error())
	}

	log.Info().Str("id", ep.ID()).Msg("joined room")
	return &Session{Room: code, Role: RoleGuest, HostID: hostID, Endpoint: ep, Link: link}, nil
}

func (n *Negotiator) bind(ctx context.Context, id string) (provider.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(n.BindTimeout))
	defer cancel()
	return n.Provider.Bind(ctx, id)
}
