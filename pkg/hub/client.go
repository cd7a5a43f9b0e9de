package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Dashboard sockets are push-only. The write loop is the sole writer
// on the connection; the read side exists to service pong frames and
// to notice the peer going away.
const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second // must fire well inside pongTimeout

	// Browsers only ever send control frames on these sockets.
	inboundLimit = 4 * 1024
)

// Client is one attached dashboard connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// Serve subscribes conn to h and pumps frames until the connection
// closes. Meant as the final call in a websocket handler.
func Serve(h *Hub, conn *websocket.Conn) {
	c := &Client{hub: h, conn: conn, send: make(chan Message, 64)}
	h.register <- c
	go c.writeLoop()
	c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(inboundLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub shut down or evicted us; tell the peer first.
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind := websocket.TextMessage
			if msg.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.Data); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
