package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

type fakeBus struct {
	ch     chan []byte
	stream []domain.StreamMessage

	mu     sync.Mutex
	lastID string
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	b.lastID = lastID
	b.mu.Unlock()
	return b.stream, nil
}

func event(t *testing.T, typ, roundID string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.Event{Type: typ, RoundID: roundID, Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	return data
}

func startHub(t *testing.T, bus *fakeBus) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func clientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestHub_HelloThenBroadcast(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 4)}
	hub, srv := startHub(t, bus)
	conn := dial(t, srv, "")

	hello := readEvent(t, conn)
	assert.Equal(t, "hub_status", hello["type"])
	assert.Equal(t, "full", hello["data"].(map[string]any)["mode"])

	require.Eventually(t, func() bool { return clientCount(hub) == 1 }, time.Second, 10*time.Millisecond)
	bus.ch <- event(t, domain.EventRoundSettled, "r1")

	got := readEvent(t, conn)
	assert.Equal(t, domain.EventRoundSettled, got["type"])
	assert.Equal(t, "r1", got["round_id"])
}

func TestHub_SubscriptionFilter(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 4)}
	hub, srv := startHub(t, bus)
	conn := dial(t, srv, "")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Events: []string{domain.EventPayoutsFailed}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.wants(domain.EventPayoutsFailed) && !c.wants(domain.EventRoundOpened) {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	bus.ch <- event(t, domain.EventRoundOpened, "r1")
	bus.ch <- event(t, domain.EventPayoutsFailed, "r1")

	got := readEvent(t, conn)
	assert.Equal(t, domain.EventPayoutsFailed, got["type"])
}

func TestHub_ReplayFromLastID(t *testing.T) {
	bus := &fakeBus{
		ch: make(chan []byte),
		stream: []domain.StreamMessage{
			{ID: "1700000000000-1", Payload: event(t, domain.EventRoundSettled, "r1")},
		},
	}
	_, srv := startHub(t, bus)
	conn := dial(t, srv, "?last_id=1700000000000-0")

	assert.Equal(t, "hub_status", readEvent(t, conn)["type"])
	replayed := readEvent(t, conn)
	assert.Equal(t, "r1", replayed["round_id"])
	assert.Equal(t, "1700000000000-1", replayed["stream_id"])
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, "1700000000000-0", bus.lastID)
}

func TestWithStreamID_KeepsNonJSONPayload(t *testing.T) {
	raw := []byte("not json")
	assert.Equal(t, raw, withStreamID(domain.StreamMessage{ID: "1-0", Payload: raw}))
}
