// Package ws streams settlement events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/server/middleware"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps how many missed events a reconnecting client gets.
	replayLimit = 100
)

// client is one WebSocket connection. An empty event filter means every
// event type is delivered.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	events map[string]bool
}

// subscribeMsg lets a client narrow or widen the event types it receives:
// {"action":"subscribe","events":["round_settled"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// Hub bridges the settlement channel of the signal bus to connected
// clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config carries runtime metadata for the hello frame and the origins
// allowed to connect (empty allows all).
type Config struct {
	Mode           string
	AllowedOrigins []string
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       cfg.Mode,
		startedAt:  time.Now().UTC(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(cfg.AllowedOrigins, origin)
		},
	}
	return h
}

// Run is the hub's event loop; it returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data := <-h.broadcast:
			typ := eventType(data)
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(typ) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump forwards settlement events from the bus into the broadcast loop.
func (h *Hub) pump(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", domain.ChannelSettlements),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", domain.ChannelSettlements))
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. A last_id query
// parameter replays events appended to the settlement stream after that
// entry id, so a reconnecting client does not miss settlements.
// GET /ws?last_id=1700000000000-0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	lastID := r.URL.Query().Get("last_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.enqueue(h.hello())
	if lastID != "" {
		h.replay(r.Context(), c, lastID)
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) hello() []byte {
	msg, _ := json.Marshal(map[string]any{
		"type": "hub_status",
		"data": map[string]any{
			"mode":           h.mode,
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		},
		"timestamp": time.Now().UTC(),
	})
	return msg
}

func (h *Hub) replay(ctx context.Context, c *client, lastID string) {
	msgs, err := h.bus.StreamRead(ctx, domain.StreamSettlements, lastID, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed",
			slog.String("last_id", lastID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		c.enqueue(withStreamID(m))
	}
}

// withStreamID adds the stream entry id so the client can resume from it.
func withStreamID(m domain.StreamMessage) []byte {
	var evt map[string]any
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		return m.Payload
	}
	evt["stream_id"] = m.ID
	out, err := json.Marshal(evt)
	if err != nil {
		return m.Payload
	}
	return out
}

func eventType(data []byte) string {
	var evt struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &evt)
	return evt.Type
}

func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) wants(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events) == 0 || c.events[typ]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, e := range msg.Events {
			c.events[e] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.events, e)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump sends JSON text frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
