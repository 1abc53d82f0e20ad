package broker

import (
	"time"

	"github.com/BioHazard786/devicehub/internal/signaling"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one websocket connection to the broker.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	remote  string
	limiter *rate.Limiter

	// id is the bound identity. Only the hub goroutine touches it.
	id string

	// send is closed by the hub when the client unregisters.
	send chan *signaling.Message
}

// readPump forwards frames from the connection to the hub. A client that
// exceeds its rate limit is disconnected.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("remote", c.remote).Msg("read")
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.Throttled.Inc()
			c.hub.log.Warn().Str("remote", c.remote).Msg("rate limit exceeded, closing")
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit"),
				time.Now().Add(writeWait))
			return
		}

		select {
		case c.hub.inbound <- envelope{client: c, msg: &msg}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump writes queued messages and keeps the connection alive with
// pings. It is the only writer of data frames.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
