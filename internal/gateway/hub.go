package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// snapshotBuffer is the per-client snapshot queue. Older snapshots are
// discarded for a slow client.
const snapshotBuffer = 4

// Hub tracks connected websocket clients.
type Hub struct {
	srv *Server

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func newHub(srv *Server) *Hub {
	return &Hub{srv: srv, clients: make(map[*Client]struct{})}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) add(c *Client) int {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.srv.OnClients != nil {
		h.srv.OnClients(n)
	}
	return n
}

func (h *Hub) remove(c *Client) int {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if h.srv.OnClients != nil {
		h.srv.OnClients(n)
	}
	return n
}

// handleWS upgrades the connection and starts the client pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	conn.EnableWriteCompression(true)

	id := uuid.NewString()
	snaps, cancel := s.ctl.Watch(snapshotBuffer)
	c := &Client{
		id:      id,
		conn:    conn,
		srv:     s,
		snaps:   snaps,
		cancel:  cancel,
		replies: make(chan []byte, 32),
		log:     s.log.With(slog.String("client", id)),
	}

	n := s.hub.add(c)
	c.log.Info("ws client connected", slog.Int("clients", n))

	// Written before the pumps start, so no concurrent writer exists yet.
	if !c.sendInitial() {
		cancel()
		s.hub.remove(c)
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
