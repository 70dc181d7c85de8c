package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tenantguard/backend/internal/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin validates origins against TG_ALLOWED_ORIGINS in
// production; elsewhere all origins are accepted.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("TG_ENV")
	allowedRaw := os.Getenv("TG_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("websocket origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	if env == "production" {
		slog.Warn("TG_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// clientMsg is a message from the socket: ping, subscribe or get_history.
type clientMsg struct {
	Type      string   `json:"type"`
	Events    []string `json:"events,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// serverMsg is every frame the server sends.
type serverMsg struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id,omitempty"`
	Event   *events.Event   `json:"event,omitempty"`
	Events  []string        `json:"events,omitempty"`
	History []*events.Event `json:"history,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client is one websocket connection. writePump is the only goroutine that
// writes to conn; readPump the only one that reads.
type Client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	filter map[events.Type]bool // nil = all types
}

// wants reports whether the client's subscribe filter admits the type.
func (c *Client) wants(t events.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == nil || c.filter[t]
}

// HandleWebSocket upgrades the request and starts the pumps. The user id
// comes from ?user_id=; "broadcast" receives every event.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = Broadcast
	}

	c := &Client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	h.register(c)

	c.enqueue(serverMsg{Type: "connected", UserID: userID})
	go c.writePump()
	go c.readPump()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		c.conn.Close()
	})
}

func (c *Client) enqueue(msg serverMsg) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		slog.Warn("send buffer full, dropping frame", "user_id", c.userID, "type", msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			// Drain whatever queued up behind this frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.enqueue(serverMsg{Type: "error", Error: "invalid message format"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg clientMsg) {
	switch msg.Type {
	case "ping":
		c.enqueue(serverMsg{Type: "pong"})

	case "subscribe":
		filter := make(map[events.Type]bool, len(msg.Events))
		for _, t := range msg.Events {
			filter[events.Type(t)] = true
		}
		c.mu.Lock()
		if len(filter) == 0 {
			c.filter = nil
		} else {
			c.filter = filter
		}
		c.mu.Unlock()
		c.enqueue(serverMsg{Type: "subscribed", Events: msg.Events})

	case "get_history":
		userID := c.userID
		if userID == Broadcast {
			userID = ""
		}
		history := c.hub.bus.History(events.Type(msg.EventType), userID, msg.Limit)
		c.enqueue(serverMsg{Type: "history", History: history})

	default:
		c.enqueue(serverMsg{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}
