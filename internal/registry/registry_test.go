package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider/memory"
	"github.com/BioHazard786/devicehub/internal/session"
	"github.com/BioHazard786/devicehub/internal/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const room = "ABC123"

type host struct {
	reg   *Registry
	board *canvas.Board
	sess  *session.Session
	stop  context.CancelFunc
	done  chan error
}

func startHost(t *testing.T, sb *memory.Switchboard, setup ...func(*Registry)) *host {
	t.Helper()
	n := &session.Negotiator{Provider: sb, Info: protocol.PeerInfo{Label: "desk"}, Log: zerolog.Nop()}
	sess, err := n.Negotiate(context.Background(), room)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Role != session.RoleHost {
		t.Fatalf("role = %v, want host", sess.Role)
	}

	board := canvas.NewBoard(1920, 1080, true)
	reg := New(sess.Endpoint, protocol.PeerInfo{Label: "desk", Room: sess.Room.String()}, board, zerolog.Nop())
	for _, fn := range setup {
		fn(reg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &host{reg: reg, board: board, sess: sess, stop: cancel, done: make(chan error, 1)}
	go func() { h.done <- reg.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
		sess.Close()
	})
	return h
}

type guest struct {
	*Guest
	sess *session.Session
	stop context.CancelFunc
	done chan error
}

func joinGuest(t *testing.T, sb *memory.Switchboard, label string) *guest {
	t.Helper()
	info := protocol.PeerInfo{Label: label}
	n := &session.Negotiator{Provider: sb, Info: info, Log: zerolog.Nop()}
	sess, err := n.Negotiate(context.Background(), room)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Role != session.RoleGuest {
		t.Fatalf("role = %v, want guest", sess.Role)
	}

	g := NewGuest(sess, info, capture.Options{Width: 1280, Height: 720, FrameRate: 30}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	out := &guest{Guest: g, sess: sess, stop: cancel, done: make(chan error, 1)}
	go func() { out.done <- g.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		sess.Close()
	})
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func localState(g *guest, id string) source.LocalState {
	for _, rec := range g.Sources() {
		if rec.ID == id {
			return rec.State
		}
	}
	return -1
}

func TestShareDisplayHideStop(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)
	g := joinGuest(t, sb, "laptop")

	waitFor(t, "guest admitted", func() bool { return h.reg.Count() == 1 })
	waitFor(t, "host info", func() bool { return g.Host().Label == "desk" })

	id, err := g.Share(context.Background(), capture.KindCamera)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pending source", func() bool {
		rec, ok := h.reg.Sources().Get(id)
		return ok && rec.State == source.Pending
	})
	if localState(g, id) != source.LocalPending {
		t.Errorf("guest state = %v, want pending", localState(g, id))
	}

	if err := h.reg.Sources().Display(id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "guest live", func() bool { return localState(g, id) == source.LocalLive })
	if h.board.Len() != 1 {
		t.Fatalf("tiles = %d, want 1", h.board.Len())
	}
	if tiles := h.board.Tiles(); tiles[0].Label.Text != "laptop · camera" {
		t.Errorf("tile label = %q", tiles[0].Label.Text)
	}

	h.reg.Sources().Hide(id)
	waitFor(t, "guest hidden", func() bool { return localState(g, id) == source.LocalHidden })
	h.reg.Sources().Display(id)
	waitFor(t, "guest live again", func() bool { return localState(g, id) == source.LocalLive })
	if h.board.Len() != 1 {
		t.Errorf("tiles = %d after redisplay, want 1", h.board.Len())
	}

	if err := g.Stop(id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "source terminated", func() bool {
		_, ok := h.reg.Sources().Get(id)
		return !ok
	})
	if h.board.Len() != 0 {
		t.Errorf("tiles = %d after stop", h.board.Len())
	}
	if len(g.Sources()) != 0 {
		t.Error("guest still lists the stopped source")
	}
}

func TestHostRemoveStopsCapture(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)
	g := joinGuest(t, sb, "phone")
	waitFor(t, "guest admitted", func() bool { return h.reg.Count() == 1 })

	id, err := g.Share(context.Background(), capture.KindWindow)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "source", func() bool { _, ok := h.reg.Sources().Get(id); return ok })

	if err := h.reg.Sources().Remove(id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "guest release", func() bool { return len(g.Sources()) == 0 })
}

func TestKick(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)
	g := joinGuest(t, sb, "tablet")
	waitFor(t, "guest admitted", func() bool { return h.reg.Count() == 1 })

	id, _ := g.Share(context.Background(), capture.KindCamera)
	waitFor(t, "source", func() bool { _, ok := h.reg.Sources().Get(id); return ok })
	h.reg.Sources().Display(id)

	peerID := h.reg.Peers()[0].ID
	if err := h.reg.Kick(peerID); err != nil {
		t.Fatal(err)
	}

	if err := waitErr(t, g.done); !errors.Is(err, session.ErrKicked) {
		t.Errorf("guest run = %v, want ErrKicked", err)
	}
	if h.reg.Count() != 0 || len(h.reg.Sources().Sources()) != 0 || h.board.Len() != 0 {
		t.Error("kicked peer left state behind")
	}
	if err := h.reg.Kick(peerID); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("second kick = %v, want ErrUnknownPeer", err)
	}
}

func TestGuestLeavingDropsSources(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)
	a := joinGuest(t, sb, "a")
	b := joinGuest(t, sb, "b")
	waitFor(t, "guests admitted", func() bool { return h.reg.Count() == 2 })

	ida, _ := a.Share(context.Background(), capture.KindCamera)
	idb, _ := b.Share(context.Background(), capture.KindCamera)
	waitFor(t, "sources", func() bool { return len(h.reg.Sources().Sources()) == 2 })
	h.reg.Sources().Display(ida)
	h.reg.Sources().Display(idb)

	a.stop()
	a.sess.Close()

	waitFor(t, "peer a gone", func() bool { return h.reg.Count() == 1 })
	waitFor(t, "source a gone", func() bool { _, ok := h.reg.Sources().Get(ida); return !ok })
	if _, ok := h.reg.Sources().Get(idb); !ok {
		t.Error("other guest's source was dropped")
	}
	if h.board.Len() != 1 {
		t.Errorf("tiles = %d, want 1", h.board.Len())
	}
}

func TestHostClosingDisconnectsGuest(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)
	g := joinGuest(t, sb, "laptop")
	waitFor(t, "guest admitted", func() bool { return h.reg.Count() == 1 })

	g.Share(context.Background(), capture.KindCamera)
	h.stop()

	err := waitErr(t, g.done)
	if !errors.Is(err, session.ErrDisconnectedFromHost) {
		t.Fatalf("guest run = %v, want ErrDisconnectedFromHost", err)
	}
	if len(g.Sources()) != 0 {
		t.Error("guest kept sources after losing the host")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)

	ep, err := sb.Bind(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()
	link, err := ep.Dial(context.Background(), h.sess.HostID, protocol.PeerInfo{})
	if err != nil {
		t.Fatal(err)
	}

	link.Send([]byte{0xc1, 0x00})
	bad, _ := protocol.Encode(protocol.TypeSourceStatus, protocol.SourceStatusPayload{SourceID: "x", Status: "live"})
	link.Send(bad)
	info, _ := protocol.Encode(protocol.TypePeerInfo, protocol.PeerInfo{Label: "renamed"})
	link.Send(info)

	waitFor(t, "peer-info after garbage", func() bool {
		p, ok := h.reg.Peer(ep.ID())
		return ok && p.Info.Label == "renamed"
	})
}

func TestReplacedConnection(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb)

	ep, err := sb.Bind(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer ep.Close()

	first, _ := ep.Dial(context.Background(), h.sess.HostID, protocol.PeerInfo{Label: "one"})
	waitFor(t, "first admitted", func() bool { return h.reg.Count() == 1 })
	gen := h.reg.Peers()[0].Gen

	if _, err := ep.Dial(context.Background(), h.sess.HostID, protocol.PeerInfo{Label: "two"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second admitted", func() bool {
		p, ok := h.reg.Peer(ep.ID())
		return ok && p.Gen > gen
	})

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("replaced link still open")
	}
	if h.reg.Count() != 1 {
		t.Errorf("peers = %d, want 1", h.reg.Count())
	}
	if p, _ := h.reg.Peer(ep.ID()); p.Info.Label != "two" {
		t.Errorf("label = %q, want two", p.Info.Label)
	}
}

func TestReconnectAfterProviderLoss(t *testing.T) {
	sb := memory.New()
	h := startHost(t, sb, func(r *Registry) { r.SetReconnectDelay(10 * time.Millisecond) })

	sb.Disconnect(h.sess.HostID)

	ep := h.sess.Endpoint.(*memory.Endpoint)
	waitFor(t, "reconnect", func() bool { return ep.Reconnects() >= 1 })
}

func TestMetrics(t *testing.T) {
	sb := memory.New()
	m := metrics.NewHost(prometheus.NewRegistry())
	h := startHost(t, sb, func(r *Registry) { r.SetMetrics(m) })

	g := joinGuest(t, sb, "laptop")
	waitFor(t, "guest admitted", func() bool { return testutil.ToFloat64(m.Peers) == 1 })

	id, _ := g.Share(context.Background(), capture.KindCamera)
	waitFor(t, "source", func() bool { _, ok := h.reg.Sources().Get(id); return ok })
	h.reg.Sources().Display(id)

	if got := testutil.ToFloat64(m.Sources.WithLabelValues("displayed")); got != 1 {
		t.Errorf("displayed gauge = %v, want 1", got)
	}
}
