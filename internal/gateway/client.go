package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
	"github.com/nextlevelbuilder/superbrain/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Slow consumers are dropped rather than buffered without bound.
	sendBuffer = 64
)

// Client is one WebSocket subscriber. Events flow one way, server to client;
// inbound frames are read only to service pings and detect closes.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     bus.GenID().String(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// SendEvent queues a frame for delivery. Frames to a stalled client are
// dropped once the buffer is full.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		c.server.log.Warn("gateway.event_marshal_failed", "event", event.Name, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		c.server.log.Warn("gateway.client_slow", "id", c.id, "event", event.Name)
	}
}

// Run pumps the connection until it closes or the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump()
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
