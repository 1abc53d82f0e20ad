// Package memory is an in-process identity provider. Endpoints bound on the
// same Switchboard reach each other through buffered channels.
package memory

import (
	"context"
	"sync"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/go4org/hashtriemap"
	"github.com/google/uuid"
)

const inboxSize = 256

// Switchboard owns the identity table.
type Switchboard struct {
	ids hashtriemap.HashTrieMap[string, *Endpoint]

	mu      sync.Mutex
	bindErr error
}

func New() *Switchboard {
	return &Switchboard{}
}

// FailBinds makes every later Bind and Reconnect fail with err until it is
// called again with nil.
func (s *Switchboard) FailBinds(err error) {
	s.mu.Lock()
	s.bindErr = err
	s.mu.Unlock()
}

func (s *Switchboard) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindErr
}

// Bind claims id, or a fresh identity when id is empty.
func (s *Switchboard) Bind(ctx context.Context, id string) (provider.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.failure(); err != nil {
		return nil, err
	}
	if id == "" {
		id = "peer-" + uuid.NewString()[:8]
	}

	ep := &Endpoint{
		sb:     s,
		id:     id,
		links:  make(chan provider.Link, 16),
		media:  make(chan provider.Media, 16),
		events: make(chan provider.Event, 8),
		done:   make(chan struct{}),
		open:   make(map[*link]struct{}),
	}
	if _, loaded := s.ids.LoadOrStore(id, ep); loaded {
		return nil, provider.ErrIdentityTaken
	}
	return ep, nil
}

// Disconnect simulates losing the provider connection for id.
func (s *Switchboard) Disconnect(id string) bool {
	ep, ok := s.ids.Load(id)
	if !ok {
		return false
	}
	ep.mu.Lock()
	ep.offline = true
	ep.mu.Unlock()
	ep.emit(provider.Event{Kind: provider.EventDisconnected})
	return true
}

// Endpoint is a bound identity on a Switchboard.
type Endpoint struct {
	sb     *Switchboard
	id     string
	links  chan provider.Link
	media  chan provider.Media
	events chan provider.Event
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	offline    bool
	reconnects int
	open       map[*link]struct{}
}

func (e *Endpoint) ID() string                    { return e.id }
func (e *Endpoint) Links() <-chan provider.Link   { return e.links }
func (e *Endpoint) Media() <-chan provider.Media  { return e.media }
func (e *Endpoint) Events() <-chan provider.Event { return e.events }

// Reconnects returns how many times Reconnect succeeded.
func (e *Endpoint) Reconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnects
}

func (e *Endpoint) emit(ev provider.Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) target(remote string) (*Endpoint, error) {
	if e.closed() {
		return nil, provider.ErrClosed
	}
	t, ok := e.sb.ids.Load(remote)
	if !ok || t.closed() {
		return nil, provider.ErrUnknownPeer
	}
	t.mu.Lock()
	offline := t.offline
	t.mu.Unlock()
	if offline {
		return nil, provider.ErrUnknownPeer
	}
	return t, nil
}

func (e *Endpoint) Dial(ctx context.Context, remote string, info protocol.PeerInfo) (provider.Link, error) {
	t, err := e.target(remote)
	if err != nil {
		return nil, err
	}

	near, far := newLinkPair(e, t, info)

	select {
	case t.links <- far:
		return near, nil
	case <-t.done:
		near.Close()
		return nil, provider.ErrUnknownPeer
	case <-ctx.Done():
		near.Close()
		return nil, ctx.Err()
	}
}

func (e *Endpoint) Call(ctx context.Context, remote string, tag provider.MediaTag, stream capture.Stream) (provider.Media, error) {
	t, err := e.target(remote)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	once := new(sync.Once)
	out := &media{remote: remote, tag: tag, done: done, once: once}
	in := &media{remote: e.id, tag: tag, done: done, once: once}

	select {
	case t.media <- in:
	case <-t.done:
		return nil, provider.ErrUnknownPeer
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if stream != nil {
		go func() {
			select {
			case <-stream.Done():
				out.Close()
			case <-done:
			}
		}()
	}
	return out, nil
}

func (e *Endpoint) Reconnect(ctx context.Context) error {
	if e.closed() {
		return provider.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sb.failure(); err != nil {
		return err
	}

	e.mu.Lock()
	e.offline = false
	e.reconnects++
	e.mu.Unlock()

	e.emit(provider.Event{Kind: provider.EventReconnected})
	return nil
}

// Close releases the identity and closes every link of this endpoint.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.sb.ids.CompareAndDelete(e.id, e)

		e.mu.Lock()
		open := make([]*link, 0, len(e.open))
		for l := range e.open {
			open = append(open, l)
		}
		e.mu.Unlock()

		for _, l := range open {
			l.Close()
		}
	})
	return nil
}

func (e *Endpoint) track(l *link) {
	e.mu.Lock()
	e.open[l] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) untrack(l *link) {
	e.mu.Lock()
	delete(e.open, l)
	e.mu.Unlock()
}

type link struct {
	owner  *Endpoint
	remote string
	info   protocol.PeerInfo
	in     chan []byte
	peer   *link
	done   chan struct{}
	once   *sync.Once
}

// newLinkPair returns the dialer's end and the acceptor's end. The
// acceptor sees the dialer's peer info.
func newLinkPair(dialer, acceptor *Endpoint, info protocol.PeerInfo) (*link, *link) {
	done := make(chan struct{})
	once := new(sync.Once)

	near := &link{owner: dialer, remote: acceptor.id, in: make(chan []byte, inboxSize), done: done, once: once}
	far := &link{owner: acceptor, remote: dialer.id, info: info, in: make(chan []byte, inboxSize), done: done, once: once}
	near.peer, far.peer = far, near

	dialer.track(near)
	acceptor.track(far)
	return near, far
}

func (l *link) Remote() string          { return l.remote }
func (l *link) Info() protocol.PeerInfo { return l.info }
func (l *link) Receive() <-chan []byte  { return l.in }
func (l *link) Done() <-chan struct{}   { return l.done }

func (l *link) Send(data []byte) error {
	select {
	case <-l.done:
		return provider.ErrClosed
	default:
	}

	cp := append([]byte(nil), data...)
	select {
	case l.peer.in <- cp:
		return nil
	case <-l.done:
		return provider.ErrClosed
	}
}

func (l *link) Close() error {
	l.once.Do(func() { close(l.done) })
	l.owner.untrack(l)
	l.peer.owner.untrack(l.peer)
	return nil
}

type media struct {
	remote string
	tag    provider.MediaTag
	done   chan struct{}
	once   *sync.Once
}

func (m *media) Remote() string         { return m.remote }
func (m *media) Tag() provider.MediaTag { return m.tag }
func (m *media) Done() <-chan struct{}  { return m.done }

func (m *media) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
