package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
)

func TestBindExclusive(t *testing.T) {
	sb := New()
	ctx := context.Background()

	ep, err := sb.Bind(ctx, "dh-ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Bind(ctx, "dh-ABC123"); !errors.Is(err, provider.ErrIdentityTaken) {
		t.Fatalf("second bind error = %v, want ErrIdentityTaken", err)
	}

	ep.Close()
	if _, err := sb.Bind(ctx, "dh-ABC123"); err != nil {
		t.Fatalf("bind after close: %v", err)
	}
}

func TestBindRace(t *testing.T) {
	sb := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	won, taken := 0, 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sb.Bind(context.Background(), "dh-RACE00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, provider.ErrIdentityTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 || taken != 15 {
		t.Errorf("won=%d taken=%d", won, taken)
	}
}

func TestAssignedIdentity(t *testing.T) {
	sb := New()
	a, err := sb.Bind(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := sb.Bind(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("assigned ids %q and %q", a.ID(), b.ID())
	}
}

func TestDialAndExchange(t *testing.T) {
	sb := New()
	ctx := context.Background()
	host, _ := sb.Bind(ctx, "host")
	guest, _ := sb.Bind(ctx, "")

	info := protocol.PeerInfo{Label: "laptop", Icon: "fa-desktop"}
	gl, err := guest.Dial(ctx, "host", info)
	if err != nil {
		t.Fatal(err)
	}

	var hl provider.Link
	select {
	case hl = <-host.Links():
	case <-time.After(time.Second):
		t.Fatal("host never saw the link")
	}
	if hl.Remote() != guest.ID() || hl.Info().Label != "laptop" {
		t.Errorf("host side link = %s %+v", hl.Remote(), hl.Info())
	}

	if err := gl.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if got := string(<-hl.Receive()); got != "ping" {
		t.Errorf("received %q", got)
	}

	hl.Close()
	select {
	case <-gl.Done():
	case <-time.After(time.Second):
		t.Fatal("guest side not closed")
	}
	if err := gl.Send([]byte("late")); !errors.Is(err, provider.ErrClosed) {
		t.Errorf("send after close = %v", err)
	}
}

func TestDialUnknown(t *testing.T) {
	sb := New()
	g, _ := sb.Bind(context.Background(), "")
	if _, err := g.Dial(context.Background(), "dh-NOBODY", protocol.PeerInfo{}); !errors.Is(err, provider.ErrUnknownPeer) {
		t.Errorf("err = %v, want ErrUnknownPeer", err)
	}
}

func TestCloseEndpointClosesLinks(t *testing.T) {
	sb := New()
	ctx := context.Background()
	host, _ := sb.Bind(ctx, "host")
	guest, _ := sb.Bind(ctx, "")

	gl, err := guest.Dial(ctx, "host", protocol.PeerInfo{})
	if err != nil {
		t.Fatal(err)
	}
	<-host.Links()

	host.Close()
	select {
	case <-gl.Done():
	case <-time.After(time.Second):
		t.Fatal("link survived endpoint close")
	}
}

func TestCallDeliversTaggedMedia(t *testing.T) {
	sb := New()
	ctx := context.Background()
	host, _ := sb.Bind(ctx, "host")
	guest, _ := sb.Bind(ctx, "")

	tag := provider.MediaTag{SourceID: "S1", Kind: "camera"}
	out, err := guest.Call(ctx, "host", tag, nil)
	if err != nil {
		t.Fatal(err)
	}

	in := <-host.Media()
	if in.Tag().SourceID != "S1" || in.Remote() != guest.ID() {
		t.Errorf("inbound media = %s %+v", in.Remote(), in.Tag())
	}

	in.Close()
	select {
	case <-out.Done():
	case <-time.After(time.Second):
		t.Fatal("outbound media not closed")
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	sb := New()
	ep, _ := sb.Bind(context.Background(), "host")
	mem := ep.(*Endpoint)

	sb.Disconnect("host")
	if ev := <-ep.Events(); ev.Kind != provider.EventDisconnected {
		t.Fatalf("event = %v", ev.Kind)
	}

	fault := errors.New("provider down")
	sb.FailBinds(fault)
	if err := ep.Reconnect(context.Background()); !errors.Is(err, fault) {
		t.Fatalf("reconnect err = %v", err)
	}

	sb.FailBinds(nil)
	if err := ep.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := <-ep.Events(); ev.Kind != provider.EventReconnected {
		t.Fatalf("event = %v", ev.Kind)
	}
	if mem.Reconnects() != 1 {
		t.Errorf("reconnects = %d", mem.Reconnects())
	}
}
