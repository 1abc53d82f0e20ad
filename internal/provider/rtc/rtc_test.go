package rtc

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/devicehub/internal/broker"
	"github.com/BioHazard786/devicehub/internal/config"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	b := broker.New(broker.Options{}, prometheus.NewRegistry(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Hub().Run(ctx)

	ts := httptest.NewServer(b.Router())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	cfg := &config.Config{
		Broker:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		STUNServers: []string{"stun:127.0.0.1:3478"},
	}
	p, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBindIdentity(t *testing.T) {
	p := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, err := p.Bind(ctx, "dh-ABC123")
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()
	if host.ID() != "dh-ABC123" {
		t.Errorf("id = %q", host.ID())
	}

	if _, err := p.Bind(ctx, "dh-ABC123"); !errors.Is(err, provider.ErrIdentityTaken) {
		t.Fatalf("second bind = %v, want ErrIdentityTaken", err)
	}

	guest, err := p.Bind(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer guest.Close()
	if !strings.HasPrefix(guest.ID(), "peer-") {
		t.Errorf("assigned id = %q", guest.ID())
	}
}

func TestDialUnknownPeer(t *testing.T) {
	p := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := p.Bind(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()

	_, err = ep.Dial(ctx, "dh-NOBODY", protocol.PeerInfo{Label: "x"})
	if !errors.Is(err, provider.ErrUnknownPeer) {
		t.Fatalf("dial = %v, want ErrUnknownPeer", err)
	}
}

func TestClosedEndpoint(t *testing.T) {
	p := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := p.Bind(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	ep.Close()

	if _, err := ep.Dial(ctx, "dh-ABC123", protocol.PeerInfo{}); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("dial after close = %v", err)
	}
	if err := ep.Reconnect(ctx); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("reconnect after close = %v", err)
	}
}

func TestRestrictiveNetwork(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []netInterface
		want   bool
	}{
		{"plain lan", []netInterface{{name: "eth0", up: true, addrs: []net.IP{net.ParseIP("192.168.1.4")}}}, false},
		{"wireguard", []netInterface{{name: "wg0", up: true}}, true},
		{"cgnat address", []netInterface{{name: "en0", up: true, addrs: []net.IP{net.ParseIP("100.72.1.9")}}}, true},
		{"tunnel down", []netInterface{{name: "tun0"}}, false},
		{"loopback ignored", []netInterface{{name: "lo", up: true, loop: true, addrs: []net.IP{net.ParseIP("100.64.0.1")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restrictiveNetwork(tt.ifaces); got != tt.want {
				t.Errorf("restrictiveNetwork = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestICEConfiguration(t *testing.T) {
	cfg := &config.Config{STUNServers: []string{"stun.example.org:3478"}}
	got := iceConfiguration(cfg)
	if len(got.ICEServers) != 1 || got.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Fatalf("without TURN = %+v", got)
	}
	if got.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("stun url = %q", got.ICEServers[0].URLs[0])
	}

	cfg.TURNServer = "turn.example.org"
	cfg.TURNUser, cfg.TURNPass = "u", "p"
	cfg.ForceRelay = true
	got = iceConfiguration(cfg)
	if len(got.ICEServers) != 2 || got.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("forced relay = %+v", got)
	}
	if got.ICEServers[1].Username != "u" {
		t.Errorf("turn username = %q", got.ICEServers[1].Username)
	}
}

func TestReleaseConnection(t *testing.T) {
	p := newProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bound, err := p.Bind(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer bound.Close()
	e := bound.(*Endpoint)

	t.Run("no handle", func(t *testing.T) {
		c, err := e.newConn("c1", "peer-x", "data")
		if err != nil {
			t.Fatal(err)
		}
		e.release(c)

		if e.lookup("c1") != nil {
			t.Error("connection still registered")
		}
		if _, err := c.pc.CreateOffer(nil); err == nil {
			t.Error("peer connection still open")
		}
	})

	t.Run("with handle", func(t *testing.T) {
		c, err := e.newConn("c2", "peer-x", "media")
		if err != nil {
			t.Fatal(err)
		}
		defer c.pc.Close()

		var called atomic.Bool
		c.setDown(func() { called.Store(true) })
		e.release(c)

		if !called.Load() {
			t.Error("down handler not run")
		}
		if e.lookup("c2") == nil {
			t.Error("connection dropped before its handle closed")
		}
	})
}
