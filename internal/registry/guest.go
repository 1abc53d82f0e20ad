package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/BioHazard786/devicehub/internal/session"
	"github.com/BioHazard786/devicehub/internal/source"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Guest runs the guest side of a session: it shares local sources with the
// host and follows the host's decisions about them.
type Guest struct {
	ep      provider.Endpoint
	link    provider.Link
	hostID  string
	info    protocol.PeerInfo
	device  protocol.DeviceInfo
	capture capture.Options
	mirror  *source.Mirror
	log     zerolog.Logger
	events  chan Event

	CallTimeout    time.Duration
	ReconnectDelay time.Duration

	mu    sync.Mutex
	host  protocol.PeerInfo
	media map[string]provider.Media
}

// NewGuest wraps a negotiated guest session.
func NewGuest(sess *session.Session, info protocol.PeerInfo, opts capture.Options, log zerolog.Logger) *Guest {
	return &Guest{
		ep:             sess.Endpoint,
		link:           sess.Link,
		hostID:         sess.HostID,
		info:           info,
		device:         protocol.DetectDevice(),
		capture:        opts,
		mirror:         source.NewMirror(),
		log:            log,
		events:         make(chan Event, eventBuffer),
		CallTimeout:    session.DefaultTimeout,
		ReconnectDelay: provider.ReconnectDelay,
		media:          make(map[string]provider.Media),
	}
}

func (g *Guest) Events() <-chan Event { return g.events }

// Sources lists the sources this guest is sharing.
func (g *Guest) Sources() []source.LocalRecord { return g.mirror.List() }

// Host returns what the host said about itself.
func (g *Guest) Host() protocol.PeerInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.host
}

func (g *Guest) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
	}
}

func (g *Guest) send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return g.link.Send(data)
}

// Run follows the host until ctx ends, the host kicks this guest, or the
// link to the host drops. A dropped link is not rejoined.
func (g *Guest) Run(ctx context.Context) error {
	defer g.stopAll()

	if err := g.send(protocol.TypePeerInfo, g.info); err != nil {
		g.log.Warn().Err(err).Msg("send peer-info")
	}

	var reconnecting sync.Mutex
	for {
		select {
		case <-ctx.Done():
			return nil

		case data := <-g.link.Receive():
			if err := g.handle(data); err != nil {
				return err
			}

		case <-g.link.Done():
			// a kick may still be queued behind the close
			for {
				select {
				case data := <-g.link.Receive():
					if err := g.handle(data); errors.Is(err, session.ErrKicked) {
						return err
					}
					continue
				default:
				}
				return session.NewError("follow host", session.ErrDisconnectedFromHost)
			}

		case ev := <-g.ep.Events():
			if ev.Kind == provider.EventDisconnected {
				g.log.Warn().Err(ev.Err).Msg("lost connection to identity provider")
				g.emit(Event{Kind: Notice, Text: "connection to broker lost, reconnecting"})
				if reconnecting.TryLock() {
					go func() {
						defer reconnecting.Unlock()
						provider.Reconnect(ctx, g.ep, g.ReconnectDelay, g.log)
					}()
				}
			} else {
				g.emit(Event{Kind: Notice, Text: "connection to broker restored"})
			}
		}
	}
}

func (g *Guest) handle(data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		g.log.Warn().Err(err).Msg("dropped malformed message")
		return nil
	}

	switch msg.Type {
	case protocol.TypePeerInfo:
		var info protocol.PeerInfo
		if err := msg.DecodePayload(&info); err != nil {
			g.log.Warn().Err(err).Msg("dropped peer-info")
			return nil
		}
		g.mu.Lock()
		g.host = info
		g.mu.Unlock()
		g.emit(Event{Kind: PeerUpdated, Peer: Peer{ID: g.hostID, Info: info}})

	case protocol.TypeSourceStatus:
		var p protocol.SourceStatusPayload
		if err := msg.DecodePayload(&p); err != nil {
			g.log.Warn().Err(err).Msg("dropped source-status")
			return nil
		}
		rec, ok, err := g.mirror.Apply(p.SourceID, p.Status)
		if err != nil {
			g.log.Warn().Err(err).Str("source", p.SourceID).Msg("dropped source-status")
			return nil
		}
		if ok {
			g.emit(Event{Kind: SourceChanged, Local: rec})
		}

	case protocol.TypeHostRemoveSource:
		var p protocol.SourceRefPayload
		if err := msg.DecodePayload(&p); err != nil {
			g.log.Warn().Err(err).Msg("dropped host-remove-source")
			return nil
		}
		if g.release(p.SourceID) {
			g.emit(Event{Kind: Notice, Text: fmt.Sprintf("host removed %s", p.SourceID)})
		}

	case protocol.TypeKick:
		return session.NewError("follow host", session.ErrKicked)

	default:
		g.log.Warn().Str("type", msg.Type).Msg("unexpected message from host")
	}
	return nil
}

// Share opens a local capture of kind and offers it to the host. It returns
// the new source id.
func (g *Guest) Share(ctx context.Context, kind string) (string, error) {
	if !capture.ValidKind(kind) {
		return "", fmt.Errorf("unsupported source kind %q", kind)
	}

	id := uuid.NewString()
	stream, err := capture.Open(id, kind, g.capture)
	if err != nil {
		return "", err
	}
	if err := g.mirror.Add(id, stream); err != nil {
		stream.Stop()
		return "", err
	}

	if err := g.send(protocol.TypeSourceSubmitted, protocol.SourceSubmittedPayload{SourceID: id, Kind: kind}); err != nil {
		g.mirror.Remove(id)
		return "", session.WrapError("share "+kind, session.ErrDisconnectedFromHost, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
	defer cancel()

	tag := provider.MediaTag{SourceID: id, Kind: kind, Device: g.device}
	media, err := g.ep.Call(callCtx, g.hostID, tag, stream)
	if err != nil {
		g.send(protocol.TypeSourceEnded, protocol.SourceRefPayload{SourceID: id})
		g.mirror.Remove(id)
		return "", fmt.Errorf("open media for %s: %w", id, err)
	}

	g.mu.Lock()
	g.media[id] = media
	g.mu.Unlock()

	go func() {
		<-media.Done()
		g.release(id)
	}()

	g.log.Info().Str("source", id).Str("kind", kind).Msg("source shared")
	return id, nil
}

// Stop ends a shared source and tells the host.
func (g *Guest) Stop(id string) error {
	if _, ok := g.mirror.Get(id); !ok {
		return fmt.Errorf("%w: %s", source.ErrUnknownSource, id)
	}
	if err := g.send(protocol.TypeSourceEnded, protocol.SourceRefPayload{SourceID: id}); err != nil {
		g.log.Debug().Err(err).Str("source", id).Msg("source-ended not delivered")
	}
	g.release(id)
	return nil
}

// release closes a source's media and capture. It reports whether the
// source was still known.
func (g *Guest) release(id string) bool {
	g.mu.Lock()
	m := g.media[id]
	delete(g.media, id)
	g.mu.Unlock()

	if m != nil {
		m.Close()
	}
	return g.mirror.Remove(id)
}

func (g *Guest) stopAll() {
	g.mu.Lock()
	media := g.media
	g.media = make(map[string]provider.Media)
	g.mu.Unlock()

	for _, m := range media {
		m.Close()
	}
	g.mirror.Clear()
}
