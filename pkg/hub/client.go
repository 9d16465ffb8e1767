package hub

import (
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Dashboard feeds are one-way: the server pushes, the browser only answers
// pings and eventually closes.
const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingInterval = idleTimeout * 9 / 10

	maxInbound   = 512
	clientBuffer = 64
)

// ErrHubStopped is returned when registering with a hub that has shut down.
var ErrHubStopped = errors.New("hub: stopped")

// Client is one dashboard connection subscribed to a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with h.
func NewClient(h *Hub, conn *websocket.Conn) (*Client, error) {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan Message, clientBuffer),
	}
	select {
	case h.register <- c:
		return c, nil
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// Run pushes hub messages to the connection until the browser goes away,
// a write fails or the hub drops the client. It blocks for the lifetime of
// the connection.
func (c *Client) Run() {
	defer c.leave()

	gone := make(chan struct{})
	go c.discardReads(gone)
	c.push(gone)
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// discardReads consumes pongs and the close frame. It closes gone when the
// peer disconnects or stops answering pings.
func (c *Client) discardReads(gone chan<- struct{}) {
	defer close(gone)

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) push(gone <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return

		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(msg.frameKind(), msg.Data); err != nil {
				return
			}

		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(kind, data)
}

// frameKind maps a message to its websocket frame type.
func (m Message) frameKind() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
