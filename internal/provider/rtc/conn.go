package rtc

import (
	"sync"

	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/pion/webrtc/v4"
)

// controlLabel names the data channel that carries control messages.
const controlLabel = "control"

const inboxSize = 256

// conn is one negotiated peer connection, keyed by its connection id.
type conn struct {
	id     string
	remote string
	kind   string
	pc     *webrtc.PeerConnection

	mu         sync.Mutex
	remoteSet  bool
	candidates []webrtc.ICECandidateInit

	onUp   func()
	onDown func()
	upOnce sync.Once

	// ready receives the outcome of an outbound dial or call.
	ready chan error
}

// settle reports the outcome of a pending dial or call. Only the first
// outcome counts.
func (c *conn) settle(err error) {
	select {
	case c.ready <- err:
	default:
	}
}

func (c *conn) setUp(fn func()) {
	c.mu.Lock()
	c.onUp = fn
	c.mu.Unlock()
}

func (c *conn) setDown(fn func()) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

// up runs the connected handler once.
func (c *conn) up() {
	c.mu.Lock()
	fn := c.onUp
	c.mu.Unlock()
	if fn != nil {
		c.upOnce.Do(fn)
	}
}

// down closes whatever handle the connection backs. It reports whether
// there was one.
func (c *conn) down() bool {
	c.mu.Lock()
	fn := c.onDown
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// addCandidate applies a remote candidate, holding it until the remote
// description is known.
func (c *conn) addCandidate(ice webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.candidates = append(c.candidates, ice)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ice)
}

func (c *conn) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, ice := range pending {
		if err := c.pc.AddICECandidate(ice); err != nil {
			return err
		}
	}
	return nil
}

type link struct {
	remote string
	info   protocol.PeerInfo
	dc     *webrtc.DataChannel
	pc     *webrtc.PeerConnection
	in     chan []byte
	done   chan struct{}
	once   sync.Once
	closed func()
}

func newLink(remote string, info protocol.PeerInfo, dc *webrtc.DataChannel, pc *webrtc.PeerConnection, closed func()) *link {
	return &link{
		remote: remote,
		info:   info,
		dc:     dc,
		pc:     pc,
		in:     make(chan []byte, inboxSize),
		done:   make(chan struct{}),
		closed: closed,
	}
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
	return l.dc.Send(data)
}

func (l *link) deliver(data []byte) {
	select {
	case l.in <- data:
	case <-l.done:
	}
}

func (l *link) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.dc.Close()
		l.pc.Close()
		if l.closed != nil {
			l.closed()
		}
	})
	return nil
}

type media struct {
	remote string
	tag    provider.MediaTag
	pc     *webrtc.PeerConnection
	done   chan struct{}
	once   sync.Once
	closed func()
}

func newMedia(remote string, tag provider.MediaTag, pc *webrtc.PeerConnection, closed func()) *media {
	return &media{remote: remote, tag: tag, pc: pc, done: make(chan struct{}), closed: closed}
}

func (m *media) Remote() string         { return m.remote }
func (m *media) Tag() provider.MediaTag { return m.tag }
func (m *media) Done() <-chan struct{}  { return m.done }

func (m *media) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.pc.Close()
		if m.closed != nil {
			m.closed()
		}
	})
	return nil
}
