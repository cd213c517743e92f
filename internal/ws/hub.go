// Package ws streams detection results to overlay clients over WebSocket.
// The hub ships coordinates only; all visual compositing happens client side.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"veil/internal/pipeline"
)

const writeTimeout = 10 * time.Second

// Hub fans detection results out to connected overlay clients. It implements
// pipeline.ResultSink so it can subscribe to the result bus directly.
type Hub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

type client struct {
	conn       *websocket.Conn
	viewWidth  int
	viewHeight int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client registered (viewport %dx%d, total: %d)", c.viewWidth, c.viewHeight, total)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		log.Printf("[WS] Client unregistered (remaining: %d)", len(h.clients))
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnResult renders and sends one detection result to every client, mapping
// boxes into each client's declared viewport. Dead connections are dropped.
func (h *Hub) OnResult(result *pipeline.Result) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	for _, c := range clients {
		data, err := json.Marshal(newRegionMessage(result, c.viewWidth, c.viewHeight))
		if err != nil {
			log.Printf("[WS] Error marshaling result: %v", err)
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

var _ pipeline.ResultSink = (*Hub)(nil)
