package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/logging"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes to every event type.
	WSChannelAll = "*"
)

// wsQueueSize is how many outbound messages a client may fall behind
// before events are dropped for it.
const wsQueueSize = 256

var _ events.Sink = (*Hub)(nil)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names event types to follow, or "*" for all of them.
// SerialNumbers narrows delivery to events about those cameras; an empty
// filter passes every camera.
type WSSubscribePayload struct {
	Channels      []string `json:"channels"`
	SerialNumbers []string `json:"serial_numbers,omitempty"`
}

// Hub delivers bus events to connected WebSocket clients.
type Hub struct {
	logger       *logging.Logger
	maxMessage   int64
	pingInterval time.Duration
	pongWait     time.Duration

	mu      sync.Mutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	queue   chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	serials  map[string]struct{}
	closed   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware decides which origins reach the handler.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub using the ping, pong and message limits from cfg.
// Unset values fall back to 30s pings, a 10s pong wait and 8 KiB messages.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		logger:       logger,
		maxMessage:   int64(cfg.MaxMessageSize),
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		clients:      make(map[*WSClient]struct{}),
	}
	if h.maxMessage <= 0 {
		h.maxMessage = 8192
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	if h.pongWait <= 0 {
		h.pongWait = 10 * time.Second
	}
	return h
}

// Run blocks until ctx ends and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := slices.Collect(maps.Keys(h.clients))
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues e for every client following its type and camera. Slow
// clients lose the event rather than stall the bus.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(e.Type),
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Payload:   e,
	})
	if err != nil {
		return fmt.Errorf("encoding websocket event: %w", err)
	}

	var delivered, dropped int
	for _, c := range h.snapshot() {
		if !c.follows(e) {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket event dropped for slow clients",
			"event", e.Type, "dropped", dropped, "delivered", delivered)
	}
	return nil
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Collect(maps.Keys(h.clients))
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// handleWebSocket upgrades the connection. With authentication enabled the
// client must present a ticket from POST /ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if subject, ok = s.tickets.redeem(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		subject:  subject,
		queue:    make(chan []byte, wsQueueSize),
		channels: make(map[string]struct{}),
		serials:  make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

// readLoop handles client requests until the connection fails or the
// client stops answering pings.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	h := c.hub
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pingInterval + h.pongWait))
	}
	c.conn.SetReadLimit(h.maxMessage)
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces on the next read
		c.dispatch(data)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
// A closed queue ends the session with a close frame.
func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch answers one client request.
func (c *WSClient) dispatch(data []byte) {
	var req struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &sub); err != nil {
				c.replyError(req.ID, "invalid "+req.Type+" payload")
				return
			}
		}
		for _, ch := range sub.Channels {
			if ch != WSChannelAll && !events.Known(events.Type(ch)) {
				c.replyError(req.ID, "unknown channel: "+ch)
				return
			}
		}
		c.reply(WSTypeResponse, req.ID, c.apply(sub, req.Type == WSTypeSubscribe))
	case WSTypePing:
		c.reply(WSTypePong, req.ID, nil)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

// apply adds or removes sub and returns the resulting subscription.
func (c *WSClient) apply(sub WSSubscribePayload, add bool) WSSubscribePayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	update := func(set map[string]struct{}, keys []string) {
		for _, k := range keys {
			if add {
				set[k] = struct{}{}
			} else {
				delete(set, k)
			}
		}
	}
	update(c.channels, sub.Channels)
	update(c.serials, sub.SerialNumbers)

	return WSSubscribePayload{
		Channels:      slices.Sorted(maps.Keys(c.channels)),
		SerialNumbers: slices.Sorted(maps.Keys(c.serials)),
	}
}

// follows reports whether e matches the client's channels and camera filter.
func (c *WSClient) follows(e events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, all := c.channels[WSChannelAll]
	_, typ := c.channels[string(e.Type)]
	if !all && !typ {
		return false
	}
	if len(c.serials) == 0 {
		return true
	}
	_, ok := c.serials[e.SerialNumber]
	return ok
}

// enqueue queues data without blocking. It reports false when the client
// is gone or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the queue once, which makes writeLoop send a close frame.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *WSClient) reply(msgType, id string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(WSTypeError, id, map[string]string{"message": message})
}
