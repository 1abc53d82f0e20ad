// Package dns resolves broker host names, falling back to public resolvers
// when the system resolver fails.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicServers are queried directly when the system resolver fails.
var PublicServers = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"[2606:4700:4700::1111]",
	"[2001:4860:4860::8888]",
}

const (
	systemTimeout = 1 * time.Second
	publicTimeout = 2 * time.Second
)

var errNoAddress = errors.New("no addresses found")

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned unchanged.
func Lookup(host string) (string, error) {
	return LookupContext(context.Background(), host)
}

func LookupContext(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	sysCtx, cancel := context.WithTimeout(ctx, systemTimeout)
	ip, err := lookupWith(sysCtx, net.DefaultResolver, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	return raceServers(ctx, host, PublicServers)
}

// raceServers queries every server at once and takes the first answer.
func raceServers(ctx context.Context, host string, servers []string) (string, error) {
	if len(servers) == 0 {
		return "", fmt.Errorf("resolve %s: no public servers configured", host)
	}

	ctx, cancel := context.WithTimeout(ctx, publicTimeout)
	defer cancel()

	type answer struct {
		ip  string
		err error
	}
	answers := make(chan answer, len(servers))

	for _, server := range servers {
		go func(server string) {
			ip, err := lookupWith(ctx, pinned(server), host)
			answers <- answer{ip, err}
		}(server)
	}

	failed := 0
	for range servers {
		select {
		case a := <-answers:
			if a.err == nil {
				return a.ip, nil
			}
			failed++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public servers failed", host, failed)
}

// pinned returns a resolver that only talks to server on port 53.
func pinned(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(addrs)
}

func preferIPv4(addrs []string) (string, error) {
	if len(addrs) == 0 {
		return "", errNoAddress
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}
