package session

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/devicehub/internal/rendezvous"
)

var (
	// ErrHostIdentityUnavailable means another instance already holds the
	// room's host identity. Negotiation recovers from it by joining as guest.
	ErrHostIdentityUnavailable = errors.New("host identity unavailable")
	ErrProviderFault           = errors.New("identity provider fault")
	ErrHostUnreachable         = errors.New("host unreachable")
	ErrDisconnectedFromHost    = errors.New("disconnected from host")
	ErrKicked                  = errors.New("removed from session by host")
	ErrPeerDisconnected        = errors.New("peer disconnected")
)

type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// IsFatal reports whether err ends the session attempt instead of being
// recovered locally.
func IsFatal(err error) bool {
	return errors.Is(err, rendezvous.ErrMalformedRoomCode) ||
		errors.Is(err, ErrProviderFault) ||
		errors.Is(err, ErrHostUnreachable)
}
