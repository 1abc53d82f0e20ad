// Package rtc is the WebRTC identity provider. Identities are claimed on the
// broker, which also relays SDP and ICE candidates; each link and each media
// call is its own peer connection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/config"
	"github.com/BioHazard786/devicehub/internal/logging"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/BioHazard786/devicehub/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrConnectionFailed = errors.New("peer connection failed")

type Provider struct {
	cfg *config.Config
	api *webrtc.API
	log zerolog.Logger
}

func New(cfg *config.Config, log zerolog.Logger) (*Provider, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(log)}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	return &Provider{cfg: cfg, api: api, log: log}, nil
}

// connect opens a broker session and binds id on it.
func (p *Provider) connect(ctx context.Context, id string) (*signaling.Client, string, error) {
	client := signaling.NewClient(p.cfg.WebSocketURL())
	if err := client.Connect(ctx); err != nil {
		return nil, "", err
	}

	bound, err := client.Bind(ctx, id)
	if err != nil {
		client.Close()
		var be *signaling.BrokerError
		if errors.As(err, &be) && be.Code == signaling.CodeIdentityTaken {
			return nil, "", provider.ErrIdentityTaken
		}
		return nil, "", err
	}
	return client, bound, nil
}

func (p *Provider) Bind(ctx context.Context, id string) (provider.Endpoint, error) {
	client, bound, err := p.connect(ctx, id)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		p:      p,
		id:     bound,
		log:    p.log.With().Str("id", bound).Logger(),
		links:  make(chan provider.Link, 16),
		media:  make(chan provider.Media, 16),
		events: make(chan provider.Event, 8),
		done:   make(chan struct{}),
		client: client,
		conns:  make(map[string]*conn),
	}
	go e.run(client)
	return e, nil
}

type Endpoint struct {
	p      *Provider
	id     string
	log    zerolog.Logger
	links  chan provider.Link
	media  chan provider.Media
	events chan provider.Event
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	client *signaling.Client
	conns  map[string]*conn
}

func (e *Endpoint) ID() string                    { return e.id }
func (e *Endpoint) Links() <-chan provider.Link   { return e.links }
func (e *Endpoint) Media() <-chan provider.Media  { return e.media }
func (e *Endpoint) Events() <-chan provider.Event { return e.events }

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) emit(ev provider.Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// run dispatches broker messages until the broker connection drops.
func (e *Endpoint) run(client *signaling.Client) {
	for msg := range client.Incoming() {
		e.dispatch(msg)
	}

	if e.closed() {
		return
	}
	e.mu.Lock()
	current := e.client == client
	e.mu.Unlock()
	if current {
		e.emit(provider.Event{Kind: provider.EventDisconnected, Err: signaling.ErrClientClosed})
	}
}

func (e *Endpoint) dispatch(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeSignal:
		p, err := msg.Signal()
		if err != nil {
			e.log.Warn().Err(err).Str("from", msg.From).Msg("malformed signal")
			return
		}
		e.handleSignal(msg.From, p)

	case signaling.MessageTypeError:
		if msg.Code == signaling.CodePeerUnavailable {
			e.failPeer(msg.Peer, provider.ErrUnknownPeer)
			return
		}
		e.log.Warn().Str("code", msg.Code).Str("error", msg.Error).Msg("broker error")

	default:
		e.log.Debug().Str("type", msg.Type).Msg("ignored broker message")
	}
}

func (e *Endpoint) handleSignal(from string, p *signaling.SignalPayload) {
	switch p.Type {
	case signaling.SignalOffer:
		if err := e.accept(from, p); err != nil {
			e.log.Warn().Err(err).Str("from", from).Str("kind", p.Kind).Msg("rejected offer")
		}

	case signaling.SignalAnswer:
		c := e.lookup(p.ConnectionID)
		if c == nil {
			return
		}
		if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
			c.settle(fmt.Errorf("apply answer: %w", err))
		}

	case signaling.SignalCandidate:
		c := e.lookup(p.ConnectionID)
		if c == nil || p.ICECandidate == nil {
			return
		}
		if err := c.addCandidate(*p.ICECandidate); err != nil {
			e.log.Debug().Err(err).Str("conn", c.id).Msg("add ICE candidate")
		}

	default:
		e.log.Debug().Str("type", p.Type).Msg("unexpected signal type")
	}
}

func (e *Endpoint) lookup(id string) *conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[id]
}

func (e *Endpoint) forget(id string) {
	e.mu.Lock()
	delete(e.conns, id)
	e.mu.Unlock()
}

// release hands a dead connection to its down handler. A connection that
// never produced a link or media has no handler, so it is dropped here.
func (e *Endpoint) release(c *conn) {
	if c.down() {
		return
	}
	e.forget(c.id)
	c.pc.Close()
}

func (e *Endpoint) failPeer(peer string, err error) {
	e.mu.Lock()
	var pending []*conn
	for _, c := range e.conns {
		if c.remote == peer {
			pending = append(pending, c)
		}
	}
	e.mu.Unlock()

	for _, c := range pending {
		c.settle(err)
	}
}

func (e *Endpoint) signal(to string, p signaling.SignalPayload) error {
	msg, err := signaling.NewSignal(to, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	return client.Send(msg)
}

// newConn creates and registers a peer connection that trickles its ICE
// candidates to remote.
func (e *Endpoint) newConn(id, remote, kind string) (*conn, error) {
	pc, err := e.p.api.NewPeerConnection(iceConfiguration(e.p.cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &conn{id: id, remote: remote, kind: kind, pc: pc, ready: make(chan error, 1)}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		e.signal(remote, signaling.SignalPayload{
			Type:         signaling.SignalCandidate,
			ConnectionID: id,
			ICECandidate: &init,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.up()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.settle(ErrConnectionFailed)
			e.release(c)
		}
	})

	e.mu.Lock()
	e.conns[id] = c
	e.mu.Unlock()
	return c, nil
}

func (e *Endpoint) offer(c *conn, meta []byte) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return e.signal(c.remote, signaling.SignalPayload{
		Type:         signaling.SignalOffer,
		ConnectionID: c.id,
		Kind:         c.kind,
		SDP:          offer.SDP,
		Metadata:     meta,
	})
}

func (e *Endpoint) wait(ctx context.Context, c *conn, abort func() error) error {
	select {
	case err := <-c.ready:
		if err != nil {
			abort()
		}
		return err
	case <-ctx.Done():
		abort()
		return ctx.Err()
	case <-e.done:
		abort()
		return provider.ErrClosed
	}
}

// Dial opens the control channel to remote.
func (e *Endpoint) Dial(ctx context.Context, remote string, info protocol.PeerInfo) (provider.Link, error) {
	if e.closed() {
		return nil, provider.ErrClosed
	}

	meta, err := msgpack.Marshal(info)
	if err != nil {
		return nil, err
	}

	c, err := e.newConn(uuid.NewString(), remote, signaling.KindData)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := c.pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		c.pc.Close()
		e.forget(c.id)
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	l := newLink(remote, protocol.PeerInfo{}, dc, c.pc, func() { e.forget(c.id) })
	c.setDown(func() { l.Close() })
	dc.OnOpen(func() { c.settle(nil) })
	dc.OnMessage(func(m webrtc.DataChannelMessage) { l.deliver(m.Data) })
	dc.OnClose(func() { l.Close() })

	if err := e.offer(c, meta); err != nil {
		l.Close()
		return nil, err
	}
	if err := e.wait(ctx, c, l.Close); err != nil {
		return nil, err
	}
	return l, nil
}

// Call opens a media connection that sends stream's track to remote.
func (e *Endpoint) Call(ctx context.Context, remote string, tag provider.MediaTag, stream capture.Stream) (provider.Media, error) {
	if e.closed() {
		return nil, provider.ErrClosed
	}

	meta, err := msgpack.Marshal(tag)
	if err != nil {
		return nil, err
	}

	c, err := e.newConn(uuid.NewString(), remote, signaling.KindMedia)
	if err != nil {
		return nil, err
	}

	m := newMedia(remote, tag, c.pc, func() { e.forget(c.id) })
	c.setDown(func() { m.Close() })
	c.setUp(func() { c.settle(nil) })

	_, err = c.pc.AddTransceiverFromTrack(stream.Track(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	if err := e.offer(c, meta); err != nil {
		m.Close()
		return nil, err
	}
	if err := e.wait(ctx, c, m.Close); err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-stream.Done():
			m.Close()
		case <-m.done:
		}
	}()
	return m, nil
}

// accept answers an inbound offer. The link or media is delivered once the
// connection is usable.
func (e *Endpoint) accept(from string, p *signaling.SignalPayload) error {
	if p.Kind != signaling.KindData && p.Kind != signaling.KindMedia {
		return fmt.Errorf("unknown connection kind %q", p.Kind)
	}

	c, err := e.newConn(p.ConnectionID, from, p.Kind)
	if err != nil {
		return err
	}
	forget := func() { e.forget(c.id) }

	switch p.Kind {
	case signaling.KindData:
		var info protocol.PeerInfo
		if err := msgpack.Unmarshal(p.Metadata, &info); err != nil {
			e.log.Debug().Err(err).Str("from", from).Msg("offer without peer info")
		}

		c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != controlLabel {
				dc.Close()
				return
			}
			l := newLink(from, info, dc, c.pc, forget)
			c.setDown(func() { l.Close() })
			dc.OnMessage(func(m webrtc.DataChannelMessage) { l.deliver(m.Data) })
			dc.OnClose(func() { l.Close() })
			dc.OnOpen(func() {
				select {
				case e.links <- l:
				case <-e.done:
					l.Close()
				}
			})
		})

	case signaling.KindMedia:
		var tag provider.MediaTag
		if err := msgpack.Unmarshal(p.Metadata, &tag); err != nil {
			c.pc.Close()
			forget()
			return fmt.Errorf("media offer without tag: %w", err)
		}

		m := newMedia(from, tag, c.pc, forget)
		c.setDown(func() { m.Close() })
		c.setUp(func() {
			select {
			case e.media <- m:
			case <-e.done:
				m.Close()
			}
		})
		c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			go drain(track)
		})
	}

	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}); err != nil {
		e.release(c)
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err == nil {
		err = c.pc.SetLocalDescription(answer)
	}
	if err != nil {
		e.release(c)
		return fmt.Errorf("create answer: %w", err)
	}

	return e.signal(from, signaling.SignalPayload{
		Type:         signaling.SignalAnswer,
		ConnectionID: c.id,
		Kind:         c.kind,
		SDP:          answer.SDP,
	})
}

// drain consumes inbound RTP so the receiver's buffers never fill. Frames
// are rendered by the display surface, not here.
func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

// Reconnect opens a new broker session under the same identity.
func (e *Endpoint) Reconnect(ctx context.Context) error {
	if e.closed() {
		return provider.ErrClosed
	}

	client, bound, err := e.p.connect(ctx, e.id)
	if err != nil {
		return err
	}
	if bound != e.id {
		client.Close()
		return fmt.Errorf("broker bound %q, want %q", bound, e.id)
	}

	e.mu.Lock()
	old := e.client
	e.client = client
	e.mu.Unlock()
	old.Close()

	go e.run(client)
	e.emit(provider.Event{Kind: provider.EventReconnected})
	return nil
}

// Close releases the identity and every connection.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)

		e.mu.Lock()
		client := e.client
		conns := make([]*conn, 0, len(e.conns))
		for _, c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.Unlock()

		for _, c := range conns {
			c.down()
			c.pc.Close()
		}
		client.Close()
	})
	return nil
}
