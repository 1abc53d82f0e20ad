// Package broker is the identity broker: it arbitrates identity claims and
// relays WebRTC signaling between bound identities.
package broker

import (
	"context"
	"regexp"

	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/BioHazard786/devicehub/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

type envelope struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns the identity table. All of its state is touched only by the
// goroutine running Run.
type Hub struct {
	clients    map[*Client]struct{}
	identities map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan envelope
	done       chan struct{}

	metrics *metrics.Broker
	log     zerolog.Logger
}

func NewHub(m *metrics.Broker, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		identities: make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan envelope, 256),
		done:       make(chan struct{}),
		metrics:    m,
		log:        log,
	}
}

// Run processes hub events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("remote", c.remote).Msg("client connected")

		case c := <-h.unregister:
			h.drop(c)

		case env := <-h.inbound:
			h.handle(env.client, env.msg)
		}
	}
}

// drop forgets a client and frees its identity.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	if c.id != "" && h.identities[c.id] == c {
		delete(h.identities, c.id)
		h.metrics.Identities.Set(float64(len(h.identities)))
		h.log.Info().Str("id", c.id).Msg("identity released")
	}
	close(c.send)
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		// already unregistered, its send queue is closed
		return
	}

	switch msg.Type {
	case signaling.MessageTypeBind:
		h.bind(c, msg.ID)

	case signaling.MessageTypeSignal:
		h.relay(c, msg)

	default:
		h.reject(c, signaling.CodeBadMessage, "unknown message type "+msg.Type, "")
	}
}

func (h *Hub) bind(c *Client, id string) {
	if c.id != "" {
		h.reject(c, signaling.CodeAlreadyBound, "connection already bound to "+c.id, "")
		return
	}
	if id == "" {
		id = "peer-" + uuid.NewString()
	}
	if !validID.MatchString(id) {
		h.reject(c, signaling.CodeInvalidID, "invalid identity", "")
		return
	}
	if _, taken := h.identities[id]; taken {
		h.log.Debug().Str("id", id).Msg("identity taken")
		h.reject(c, signaling.CodeIdentityTaken, "", "")
		return
	}

	h.identities[id] = c
	c.id = id
	h.metrics.Identities.Set(float64(len(h.identities)))
	h.log.Info().Str("id", id).Str("remote", c.remote).Msg("identity bound")

	h.deliver(c, &signaling.Message{Type: signaling.MessageTypeBound, ID: id})
}

func (h *Hub) relay(c *Client, msg *signaling.Message) {
	if c.id == "" {
		h.reject(c, signaling.CodeNotBound, "bind an identity first", "")
		return
	}

	target, ok := h.identities[msg.To]
	if !ok {
		h.reject(c, signaling.CodePeerUnavailable, "", msg.To)
		return
	}

	h.metrics.Signals.Inc()
	h.deliver(target, &signaling.Message{Type: signaling.MessageTypeSignal, From: c.id, Payload: msg.Payload})
}

func (h *Hub) reject(c *Client, code, text, peer string) {
	h.metrics.Rejected.WithLabelValues(code).Inc()
	reply := signaling.ErrorMessage(code, text)
	reply.Peer = peer
	h.deliver(c, reply)
}

// deliver queues msg without blocking the hub. A client too slow to drain
// its queue loses the message.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	select {
	case c.send <- msg:
	default:
		h.log.Warn().Str("id", c.id).Str("type", msg.Type).Msg("client send queue full")
	}
}
