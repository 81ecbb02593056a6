package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"myaccountapp/account-client/internal/session"
)

const (
	clientSendBuffer = 32
	writeWait        = 10 * time.Second
)

type eventMessage struct {
	Type  string    `json:"type"`
	Seq   uint64    `json:"seq"`
	State stateView `json:"state"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
}

// Hub fans coordinator snapshots out to WebSocket clients. A client whose
// buffer is full is dropped rather than stalling the publisher.
type Hub struct {
	log            *slog.Logger
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]bool
	seq     uint64
	closed  bool
}

func NewHub(log *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		log:            log,
		allowedOrigins: make(map[string]bool),
		clients:        make(map[*streamClient]bool),
	}
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			h.allowedOrigins[trimmed] = true
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Serve upgrades the request. The first message is the state returned by
// snapshot, taken while registering the client so no change is missed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, snapshot func() session.State) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(c.send)
		return
	}
	h.clients[c] = true
	h.seq++
	if data, err := h.encode(snapshot(), h.seq); err == nil {
		c.send <- data
	}
	h.mu.Unlock()
	h.log.Info("state stream client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			h.remove(c)
			h.log.Info("state stream client disconnected", "client_id", c.id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish is a coordinator observer. It never blocks.
func (h *Hub) Publish(s session.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	data, err := h.encode(s, h.seq)
	if err != nil {
		h.log.Error("encode state message failed", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("state stream client too slow, disconnecting", "client_id", c.id)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) encode(s session.State, seq uint64) ([]byte, error) {
	return json.Marshal(eventMessage{Type: "state", Seq: seq, State: viewOf(s)})
}

// checkOrigin accepts configured origins, the bridge's own host and loopback.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
