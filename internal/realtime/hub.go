// Package realtime fans conversation events out to connected dashboard
// clients over WebSocket.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storechat/storechat/internal/bus"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 10 * time.Second
)

// Client is one connected dashboard socket. mu orders sends against close:
// a send may never race the channel close or it panics the publisher.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub tracks connected clients. Publish never blocks the caller: a client
// whose buffer is full is dropped, because the pipeline must not stall on a
// slow dashboard.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register wraps conn as a client and starts its writer. The returned client
// is removed with Unregister when its socket dies.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writeLoop()
	h.logger.Info("dashboard client connected", "id", c.id)
	return c
}

// Unregister removes the client and closes its socket.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Info("dashboard client disconnected", "id", c.id)
}

// Publish sends the event to every connected client.
func (h *Hub) Publish(event bus.Event) {
	frame, err := json.Marshal(map[string]any{
		"event":   event.Name,
		"payload": event.Payload,
	})
	if err != nil {
		h.logger.Error("marshal event", "event", event.Name, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(frame) {
			h.logger.Warn("dropping slow dashboard client", "id", c.id)
			h.Unregister(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writeLoop() {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.conn.Close()
			return
		}
	}
}

// trySend queues frame without blocking. It reports false only when the
// client is alive but its buffer is full; a closed client reports true so
// the caller does not re-enter Unregister.
func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}

// ReadUntilClose drains control frames until the peer goes away. Dashboard
// clients never send data; reading is only for close/ping handling.
func (c *Client) ReadUntilClose() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
