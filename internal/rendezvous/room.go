// Package rendezvous turns human-typed room codes into the identity the
// room's host binds to. Nothing here touches the network.
package rendezvous

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	// CodeLength is the number of significant characters in a room code.
	CodeLength = 6

	// IdentityPrefix namespaces host identities on the provider.
	IdentityPrefix = "dh-"

	// alphabet leaves out characters that are easy to misread (0/O, 1/I).
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var ErrMalformedRoomCode = errors.New("malformed room code")

// Code is a normalized room code.
type Code string

// Normalize uppercases s and strips everything that is not a letter or digit.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse normalizes s and checks its length. Longer input is cut to the
// fixed length.
func Parse(s string) (Code, error) {
	n := Normalize(s)
	if len(n) < CodeLength {
		return "", fmt.Errorf("%w: %q has %d characters, need %d", ErrMalformedRoomCode, s, len(n), CodeLength)
	}
	return Code(n[:CodeLength]), nil
}

// DeriveHostIdentity maps a room code to the provider identity of its host.
// Every instance given the same code computes the same identity.
func DeriveHostIdentity(c Code) string {
	return IdentityPrefix + string(c)
}

// String renders the code grouped as XXX-XXX.
func (c Code) String() string {
	if len(c) != CodeLength {
		return string(c)
	}
	return string(c[:3]) + "-" + string(c[3:])
}

// Generate returns a fresh random room code.
func Generate() Code {
	var b strings.Builder
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(alphabet[randomIndex(len(alphabet))])
	}
	return Code(b.String())
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("rendezvous: random source failed: %v", err))
	}
	return int(n.Int64())
}

// ParseInput accepts either a bare code or a room link, in the
// https://host/?room=XXX-XXX or https://host/r/XXX-XXX forms.
func ParseInput(input string) (Code, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: room code cannot be empty", ErrMalformedRoomCode)
	}

	if strings.Contains(input, "://") {
		code, err := extractFromURL(input)
		if err != nil {
			return "", err
		}
		return Parse(code)
	}

	return Parse(input)
}

func extractFromURL(urlStr string) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRoomCode, err)
	}

	if room := u.Query().Get("room"); room != "" {
		return room, nil
	}

	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("%w: no room code in %s", ErrMalformedRoomCode, urlStr)
}
