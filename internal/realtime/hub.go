package realtime

import (
	"log/slog"
	"sync"

	"github.com/smilemakc/caseorch/internal/telemetry"
)

// Hub manages connected dashboard clients and fans out run events to
// the clients subscribed to the relevant case. It implements
// telemetry.Recorder so it can be registered directly on the
// broadcaster the supervisor and executor emit through.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *WireEvent

	byCaseID map[string]map[*Client]bool

	logger *slog.Logger
	mu     sync.RWMutex
}

var _ telemetry.Recorder = (*Hub)(nil)

// NewHub constructs a Hub. Call Run in a goroutine before serving
// connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *WireEvent, 256),
		byCaseID:   make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run is the hub's event loop; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

// Record implements telemetry.Recorder: every emitted Event is queued
// for fan-out to subscribed clients. Never blocks the caller.
func (h *Hub) Record(e telemetry.Event) {
	select {
	case h.broadcast <- newWireEvent(e):
	default:
		h.logger.Warn("realtime: broadcast channel full, dropping event", "case_id", e.CaseID, "type", e.Type)
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.logger.Debug("dashboard client registered", "client_id", c.id, "user_id", c.userID, "total", len(h.clients))
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	c.subs.mu.RLock()
	for caseID := range c.subs.cases {
		if clients, ok := h.byCaseID[caseID]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.byCaseID, caseID)
			}
		}
	}
	c.subs.mu.RUnlock()

	h.logger.Debug("dashboard client unregistered", "client_id", c.id, "total", len(h.clients))
}

func (h *Hub) broadcastEvent(event *WireEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.byCaseID[event.CaseID]
	if !ok {
		return
	}
	for c := range clients {
		select {
		case c.send <- event:
		default:
			h.logger.Warn("dashboard client buffer full, dropping event", "client_id", c.id, "case_id", event.CaseID)
		}
	}
}

// Subscribe adds a case subscription for a client.
func (h *Hub) Subscribe(c *Client, caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subs.mu.Lock()
	c.subs.cases[caseID] = true
	c.subs.mu.Unlock()

	if h.byCaseID[caseID] == nil {
		h.byCaseID[caseID] = make(map[*Client]bool)
	}
	h.byCaseID[caseID][c] = true
}

// Unsubscribe removes a case subscription for a client.
func (h *Hub) Unsubscribe(c *Client, caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subs.mu.Lock()
	delete(c.subs.cases, caseID)
	c.subs.mu.Unlock()

	if clients, ok := h.byCaseID[caseID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byCaseID, caseID)
		}
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
