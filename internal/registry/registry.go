// Package registry keeps the host's table of connected guests and runs the
// guest side of a session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/BioHazard786/devicehub/internal/source"
	"github.com/rs/zerolog"
)

var ErrUnknownPeer = errors.New("unknown peer")

const (
	mediaInbox  = 8
	eventBuffer = 64
)

// Peer is a snapshot of a connected guest.
type Peer struct {
	ID     string
	Gen    uint64
	Info   protocol.PeerInfo
	Joined time.Time
}

func (p Peer) owner() source.Owner { return source.Owner{ID: p.ID, Gen: p.Gen} }

// DisplayName is the peer's label, or its identity when it sent none.
func (p Peer) DisplayName() string {
	if p.Info.Label != "" {
		return p.Info.Label
	}
	return p.ID
}

type peerRecord struct {
	Peer
	link   provider.Link
	media  chan provider.Media
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Registry is the host's connection table. Each admitted guest gets one
// goroutine that handles its messages and media in arrival order.
type Registry struct {
	ep      provider.Endpoint
	info    protocol.PeerInfo
	sources *source.Manager
	log     zerolog.Logger
	metrics *metrics.Host
	events  chan Event

	reconnectDelay time.Duration
	reconnecting   sync.Mutex

	mu    sync.Mutex
	peers map[string]*peerRecord
	gen   uint64
	wg    sync.WaitGroup
}

// New returns a registry for a host endpoint. info is sent to every guest
// on admission.
func New(ep provider.Endpoint, info protocol.PeerInfo, renderer canvas.Renderer, log zerolog.Logger) *Registry {
	r := &Registry{
		ep:             ep,
		info:           info,
		log:            log,
		events:         make(chan Event, eventBuffer),
		reconnectDelay: provider.ReconnectDelay,
		peers:          make(map[string]*peerRecord),
	}
	r.sources = source.NewManager(renderer, r, log.With().Str("c", "sources").Logger())
	r.sources.SetLabeler(r.labelFor)
	r.sources.OnChange(r.sourceChanged)
	return r
}

// Sources returns the registry's source manager.
func (r *Registry) Sources() *source.Manager { return r.sources }

// Events delivers peer and source changes for the UI.
func (r *Registry) Events() <-chan Event { return r.events }

// SetMetrics attaches host collectors.
func (r *Registry) SetMetrics(m *metrics.Host) { r.metrics = m }

// SetReconnectDelay overrides provider.ReconnectDelay.
func (r *Registry) SetReconnectDelay(d time.Duration) { r.reconnectDelay = d }

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Debug().Stringer("event", ev.Kind).Msg("event dropped, UI not keeping up")
	}
}

// Run accepts guests until ctx ends, then tears every peer down.
func (r *Registry) Run(ctx context.Context) error {
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case link := <-r.ep.Links():
			r.admit(ctx, link)

		case m := <-r.ep.Media():
			r.admitPending(ctx)
			r.routeMedia(m)

		case ev := <-r.ep.Events():
			r.handleProviderEvent(ctx, ev)
		}
	}
}

func (r *Registry) admit(ctx context.Context, link provider.Link) {
	id := link.Remote()
	peerCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.gen++
	rec := &peerRecord{
		Peer:   Peer{ID: id, Gen: r.gen, Info: link.Info(), Joined: time.Now()},
		link:   link,
		media:  make(chan provider.Media, mediaInbox),
		ctx:    peerCtx,
		cancel: cancel,
	}
	old := r.peers[id]
	r.peers[id] = rec
	snap := rec.Peer
	r.mu.Unlock()

	log := r.log.With().Str("peer", id).Logger()
	if old != nil {
		log.Info().Msg("peer reconnected, replacing previous connection")
		r.teardown(old, "replaced")
	}

	data, err := protocol.Encode(protocol.TypePeerInfo, r.info)
	if err == nil {
		err = link.Send(data)
	}
	if err != nil {
		log.Warn().Err(err).Msg("send peer-info")
	}

	log.Info().Str("label", snap.Info.Label).Msg("peer joined")
	r.updatePeerGauge()
	r.emit(Event{Kind: PeerJoined, Peer: snap})

	r.wg.Add(1)
	go r.serve(rec)
}

// admitPending admits links that are already waiting so media never
// overtakes the link of the peer that sent it.
func (r *Registry) admitPending(ctx context.Context) {
	for {
		select {
		case link := <-r.ep.Links():
			r.admit(ctx, link)
		default:
			return
		}
	}
}

func (r *Registry) serve(rec *peerRecord) {
	defer r.wg.Done()
	defer r.teardown(rec, "link closed")

	for {
		select {
		case <-rec.ctx.Done():
			return
		case <-rec.link.Done():
			return
		case data := <-rec.link.Receive():
			if rec.ctx.Err() != nil {
				return
			}
			r.handle(rec, data)
		case m := <-rec.media:
			// the manager rejects media that loses a race with DropPeer
			if err := r.sources.Submit(rec.owner(), m); err != nil {
				r.log.Warn().Err(err).Str("peer", rec.ID).Msg("rejected media")
			}
		}
	}
}

// handle processes one control message from a guest. Nothing a guest sends
// can take the registry down: bad input is logged and dropped.
func (r *Registry) handle(rec *peerRecord, data []byte) {
	log := r.log.With().Str("peer", rec.ID).Logger()

	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropped malformed message")
		return
	}

	switch msg.Type {
	case protocol.TypePeerInfo:
		var info protocol.PeerInfo
		if err := msg.DecodePayload(&info); err != nil {
			log.Warn().Err(err).Msg("dropped peer-info")
			return
		}
		r.mu.Lock()
		rec.Info = info
		snap := rec.Peer
		r.mu.Unlock()
		r.emit(Event{Kind: PeerUpdated, Peer: snap})

	case protocol.TypeSourceSubmitted:
		var p protocol.SourceSubmittedPayload
		if err := msg.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Msg("dropped source-submitted")
			return
		}
		if err := r.sources.Expect(rec.ctx, rec.owner(), p.SourceID, p.Kind); err != nil {
			log.Warn().Err(err).Msg("rejected source announcement")
		}

	case protocol.TypeSourceEnded:
		var p protocol.SourceRefPayload
		if err := msg.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Msg("dropped source-ended")
			return
		}
		if err := r.sources.End(rec.owner(), p.SourceID); err != nil {
			log.Debug().Err(err).Msg("source-ended for unknown source")
		}

	default:
		log.Warn().Str("type", msg.Type).Msg("unexpected message from guest")
	}
}

func (r *Registry) routeMedia(m provider.Media) {
	r.mu.Lock()
	rec := r.peers[m.Remote()]
	r.mu.Unlock()

	if rec == nil {
		r.log.Warn().Str("peer", m.Remote()).Str("source", m.Tag().SourceID).Msg("media from unknown peer")
		m.Close()
		return
	}

	select {
	case rec.media <- m:
	case <-rec.ctx.Done():
		m.Close()
	}
}

func (r *Registry) handleProviderEvent(ctx context.Context, ev provider.Event) {
	switch ev.Kind {
	case provider.EventDisconnected:
		r.log.Warn().Err(ev.Err).Msg("lost connection to identity provider")
		r.emit(Event{Kind: Notice, Text: "connection to broker lost, reconnecting"})
		if !r.reconnecting.TryLock() {
			return
		}
		go func() {
			defer r.reconnecting.Unlock()
			provider.Reconnect(ctx, r.ep, r.reconnectDelay, r.log)
		}()
	case provider.EventReconnected:
		r.emit(Event{Kind: Notice, Text: "connection to broker restored"})
	}
}

// teardown removes a peer and everything it owns. It runs once per record
// no matter how many paths reach it.
func (r *Registry) teardown(rec *peerRecord, reason string) {
	rec.once.Do(func() {
		rec.cancel()

		r.mu.Lock()
		if r.peers[rec.ID] == rec {
			delete(r.peers, rec.ID)
		}
		snap := rec.Peer
		r.mu.Unlock()

		n := r.sources.DropPeer(rec.owner())
		rec.link.Close()

	drain:
		for {
			select {
			case m := <-rec.media:
				m.Close()
			default:
				break drain
			}
		}

		r.log.Info().Str("peer", rec.ID).Str("reason", reason).Int("sources", n).Msg("peer left")
		r.updatePeerGauge()
		r.emit(Event{Kind: PeerLeft, Peer: snap, Text: reason})
	})
}

// Kick tells a guest it was removed and disconnects it. Delivery of the
// notice is not confirmed.
func (r *Registry) Kick(id string) error {
	r.mu.Lock()
	rec := r.peers[id]
	r.mu.Unlock()

	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}

	if data, err := protocol.Encode(protocol.TypeKick, nil); err == nil {
		if err := rec.link.Send(data); err != nil {
			r.log.Debug().Err(err).Str("peer", id).Msg("kick notice not delivered")
		}
	}
	if r.metrics != nil {
		r.metrics.Kicks.Inc()
	}
	r.teardown(rec, "kicked")
	return nil
}

// Send implements source.Outbox. Messages for a record that has since been
// replaced are not delivered.
func (r *Registry) Send(owner source.Owner, msgType string, payload any) error {
	r.mu.Lock()
	rec := r.peers[owner.ID]
	r.mu.Unlock()

	if rec == nil || rec.Gen != owner.Gen {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, owner)
	}

	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return rec.link.Send(data)
}

// Peers returns the connected guests, oldest first.
func (r *Registry) Peers() []Peer {
	r.mu.Lock()
	out := make([]Peer, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec.Peer)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Gen < out[j].Gen })
	return out
}

// Count returns the number of connected guests.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Peer looks up a connected guest.
func (r *Registry) Peer(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return rec.Peer, true
}

func (r *Registry) labelFor(owner source.Owner) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.peers[owner.ID]; ok && rec.Gen == owner.Gen {
		return rec.DisplayName()
	}
	return ""
}

func (r *Registry) sourceChanged(c source.Change) {
	if r.metrics != nil {
		for state, n := range r.sources.Counts() {
			r.metrics.Sources.WithLabelValues(state.String()).Set(float64(n))
		}
	}
	r.emit(Event{Kind: SourceChanged, Source: c})
}

func (r *Registry) updatePeerGauge() {
	if r.metrics != nil {
		r.metrics.Peers.Set(float64(r.Count()))
	}
}

func (r *Registry) shutdown() {
	r.mu.Lock()
	recs := make([]*peerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	for _, rec := range recs {
		r.teardown(rec, "host closed")
	}
	r.wg.Wait()
}
