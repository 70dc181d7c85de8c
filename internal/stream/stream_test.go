package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantguard/backend/internal/events"
)

func newStream(t *testing.T) (*Hub, *events.Bus, string) {
	t.Helper()
	bus := events.NewBus(events.BusConfig{})
	hub := NewHub(bus)
	bus.RegisterSink(hub)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) serverMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg serverMsg
	require.NoError(t, json.Unmarshal(frame, &msg))
	return msg
}

func TestConnectAndPingPong(t *testing.T) {
	_, _, url := newStream(t)
	conn := dial(t, url+"?user_id=u1")

	hello := readMsg(t, conn)
	assert.Equal(t, "connected", hello.Type)
	assert.Equal(t, "u1", hello.UserID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMsg(t, conn).Type)
}

func TestEventDeliveredToOwnerAndBroadcast(t *testing.T) {
	_, bus, url := newStream(t)
	owner := dial(t, url+"?user_id=u1")
	watcher := dial(t, url) // no user_id: broadcast
	other := dial(t, url+"?user_id=u2")
	readMsg(t, owner)
	readMsg(t, watcher)
	readMsg(t, other)

	_, err := bus.Publish(events.EventLawMatched, "u1", "test", events.LawPayload{LawID: "law-1"})
	require.NoError(t, err)

	got := readMsg(t, owner)
	assert.Equal(t, "event", got.Type)
	assert.Equal(t, events.EventLawMatched, got.Event.Type)

	got = readMsg(t, watcher)
	assert.Equal(t, "event", got.Type)

	// The unrelated user gets nothing.
	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestSubscribeFilters(t *testing.T) {
	_, bus, url := newStream(t)
	conn := dial(t, url+"?user_id=u1")
	readMsg(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "subscribe",
		"events": []string{string(events.EventPhaseChanged)},
	}))
	assert.Equal(t, "subscribed", readMsg(t, conn).Type)

	_, err := bus.Publish(events.EventLawMatched, "u1", "test", events.LawPayload{LawID: "law-1"})
	require.NoError(t, err)
	_, err = bus.Publish(events.EventPhaseChanged, "u1", "test", events.PhasePayload{
		From: events.PhaseActive, To: events.PhaseDispute,
	})
	require.NoError(t, err)

	got := readMsg(t, conn)
	assert.Equal(t, events.EventPhaseChanged, got.Event.Type)
}

func TestGetHistory(t *testing.T) {
	_, bus, url := newStream(t)

	for i := 0; i < 3; i++ {
		_, err := bus.Publish(events.EventActionTaken, "u1", "test", events.ActionPayload{Action: "noted"})
		require.NoError(t, err)
	}

	conn := dial(t, url+"?user_id=u1")
	readMsg(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "get_history",
		"event_type": string(events.EventActionTaken),
		"limit":      2,
	}))
	got := readMsg(t, conn)
	assert.Equal(t, "history", got.Type)
	assert.Len(t, got.History, 2)
}

func TestUnknownMessageType(t *testing.T) {
	_, _, url := newStream(t)
	conn := dial(t, url+"?user_id=u1")
	readMsg(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	got := readMsg(t, conn)
	assert.Equal(t, "error", got.Type)
	assert.Contains(t, got.Error, "bogus")
}
