// Package stream fans published events out to websocket clients. The hub
// registers itself as a bus sink; each event is serialized once and offered
// to the owner's sockets plus every broadcast socket.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/metrics"
)

// Broadcast is the pseudo user id for sockets that want every event.
const Broadcast = "broadcast"

// Hub tracks connected sockets per user. It implements events.Sink.
type Hub struct {
	bus *events.Bus

	mu      sync.RWMutex
	clients map[string]map[*Client]bool
}

func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:     bus,
		clients: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	metrics.WebsocketClients.Inc()
	slog.Info("websocket connected", "user_id", c.userID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.userID]; ok && set[c] {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
		metrics.WebsocketClients.Dec()
		slog.Info("websocket disconnected", "user_id", c.userID)
	}
}

// Fanout serializes the event once and offers it to the owner's sockets and
// all broadcast sockets. A full send buffer skips the socket; it is not
// removed. Fanout never blocks the bus dispatcher.
func (h *Hub) Fanout(evt *events.Event) {
	frame, err := json.Marshal(serverMsg{Type: "event", Event: evt})
	if err != nil {
		slog.Warn("event serialization failed", "type", evt.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.offer(h.clients[Broadcast], evt, frame)
	if evt.UserID == "" {
		for userID, set := range h.clients {
			if userID != Broadcast {
				h.offer(set, evt, frame)
			}
		}
		return
	}
	h.offer(h.clients[evt.UserID], evt, frame)
}

func (h *Hub) offer(set map[*Client]bool, evt *events.Event, frame []byte) {
	for c := range set {
		if !c.wants(evt.Type) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			metrics.EventsDropped.WithLabelValues("websocket").Inc()
		}
	}
}

var _ events.Sink = (*Hub)(nil)
