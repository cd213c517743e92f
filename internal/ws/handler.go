package ws

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 512 // clients only send pongs and tiny control frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // overlay clients connect from arbitrary origins
	},
}

// Handler upgrades overlay connections and registers them with the hub.
// Clients may declare their display size with view_w and view_h query
// parameters to receive boxes pre-mapped to their viewport.
type Handler struct {
	hub *Hub
}

// NewHandler creates a handler feeding the given hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewWidth := queryInt(r, "view_w")
	viewHeight := queryInt(r, "view_h")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, viewWidth: viewWidth, viewHeight: viewHeight}
	h.hub.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump drains the connection so pongs and close frames are processed.
// It owns connection teardown on its way out.
func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			return
		}
	}
}

// writePump keeps the connection alive with periodic pings.
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
