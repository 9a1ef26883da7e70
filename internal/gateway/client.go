package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one WebSocket session for one user on this process.
type Client struct {
	userID        string
	sessionHandle string
	conn          *websocket.Conn
	send          chan Event
	gw            *Gateway
}

func newClient(gw *Gateway, conn *websocket.Conn, userID, sessionHandle string) *Client {
	return &Client{
		userID:        userID,
		sessionHandle: sessionHandle,
		conn:          conn,
		send:          make(chan Event, 64),
		gw:            gw,
	}
}

// readPump drains the connection. Incoming frames only matter as liveness
// signals; each pong refreshes the session's directory TTL so long idle
// connections stay registered.
func (c *Client) readPump() {
	defer func() {
		c.gw.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Error("Failed to set read deadline", "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.gw.directory.Touch(context.Background(), c.userID); err != nil {
			slog.Warn("Failed to refresh session TTL",
				"user_id", c.userID,
				"error", err,
			)
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Unexpected session close",
					"user_id", c.userID,
					"error", err,
				)
			}
			return
		}
	}
}

// writePump writes queued events and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Warn("Failed to write session event",
					"user_id", c.userID,
					"error", err,
				)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
