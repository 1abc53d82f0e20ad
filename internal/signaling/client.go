package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/devicehub/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("signaling client closed")

// BrokerError is an error reply from the broker.
type BrokerError struct {
	Code    string
	Message string
}

func (e *BrokerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker: %s (%s)", e.Code, e.Message)
	}
	return "broker: " + e.Code
}

// Client manages the WebSocket connection to the broker.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *Message
	outgoing  chan *Message
	done      chan struct{}
	stopped   chan struct{}
	once      sync.Once
}

// NewClient creates a new signaling client
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *Message, 64),
		outgoing:  make(chan *Message, 64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the broker.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Resolve through the fallback resolver so a broken system DNS does not
	// prevent joining.
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Bind claims id on the broker, or asks for a fresh identity when id is
// empty. It must run before anything else reads Incoming.
func (c *Client) Bind(ctx context.Context, id string) (string, error) {
	if err := c.Send(&Message{Type: MessageTypeBind, ID: id}); err != nil {
		return "", err
	}

	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				return "", ErrClientClosed
			}
			switch msg.Type {
			case MessageTypeBound:
				return msg.ID, nil
			case MessageTypeError:
				return "", &BrokerError{Code: msg.Code, Message: msg.Error}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic
// pings. stopped is closed when it exits.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues a message for the broker. It fails instead of blocking once
// the writer has stopped.
func (c *Client) Send(msg *Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	case <-c.stopped:
		return ErrClientClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-c.stopped:
		return ErrClientClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection drops.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
