// Package stream fans alerts out to subscribed dashboard clients over
// WebSocket. Broadcasts are best-effort: a client that cannot keep up is
// pruned, nothing is replayed.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // time allowed to read the next pong
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 256 // per-client outbound queue
)

// Dashboards connect cross-origin from the UI dev server; frames carry no
// credentials and the write surface is elsewhere, so all origins pass.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is the wire envelope streamed to clients.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is one connected dashboard. All writes go through the Send
// channel into writePump; readPump only services control frames.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Hub tracks connected clients and serializes each broadcast once.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	sent    int64
	pruned  int64
}

// NewHub creates an empty connection manager.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Stream] WebSocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("[Stream] Dashboard client connected", "clients", count)
	go c.writePump()
	go c.readPump()
}

// Broadcast serializes a frame once and queues it to every client. Clients
// with a full queue are pruned rather than blocking the pipeline.
func (h *Hub) Broadcast(frameType string, payload interface{}) {
	data, err := json.Marshal(Frame{Type: frameType, Payload: payload})
	if err != nil {
		slog.Warn("[Stream] Failed to serialize frame", "type", frameType, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := int64(0)
	for _, c := range clients {
		select {
		case c.send <- data:
			sent++
		default:
			slog.Info("[Stream] Client send buffer full, pruning")
			c.close()
		}
	}
	h.mu.Lock()
	h.sent += sent
	h.mu.Unlock()
}

// Clients reports the current connection count.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats summarizes fan-out activity.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"clients":        len(h.clients),
		"frames_sent":    h.sent,
		"clients_pruned": h.pruned,
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// close unregisters and tears down the connection exactly once. The send
// channel stays open (a concurrent Broadcast may still hold a reference);
// writePump exits through done instead.
func (c *Client) close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.pruned++
		c.hub.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// writePump owns all writes to the connection: queued frames and pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump services pongs and detects disconnects. Inbound data frames are
// discarded; the stream is one-way.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Info("[Stream] Client read error", "error", err)
			}
			return
		}
	}
}
