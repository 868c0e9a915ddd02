// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/ledger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is what clients receive.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// subscribeMsg narrows what a client receives. Empty sets mean everything.
//
//	{"action":"subscribe","markets":["0x.."],"events":["ProposalDisputed"]}
type subscribeMsg struct {
	Action  string           `json:"action"`
	Markets []common.Address `json:"markets"`
	Events  []string         `json:"events"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.RWMutex
	markets map[common.Address]bool
	events  map[string]bool
}

// Hub fans committed events out to connected clients. Events come from the
// bus channel when a bus is configured, otherwise from OnCommit.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.EventRecord
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config describes the hub's source and the metadata sent on connect.
type Config struct {
	// Channel is the bus channel carrying event JSON. Ignored without a bus.
	Channel   string
	Mode      string
	StartedAt time.Time
}

// NewHub creates a Hub. bus may be nil, in which case the hub must be
// registered as a ledger observer.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.EventRecord, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channel:    cfg.Channel,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// OnCommit queues the receipt's events for broadcast. Events are dropped
// when the hub is saturated.
func (h *Hub) OnCommit(ctx context.Context, r *ledger.Receipt) {
	for _, ev := range r.Events {
		select {
		case h.broadcast <- ev:
		default:
			h.logger.WarnContext(ctx, "ws: broadcast queue full", slog.Int64("event_id", ev.ID))
		}
	}
}

// Run is the hub's main loop. It returns when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.channel != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
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
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case ev := <-h.broadcast:
			data, err := json.Marshal(frame{Type: "event", Payload: ev})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev) {
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

// subscribe forwards bus messages into the broadcast loop.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", h.channel))
				return
			}
			var ev domain.EventRecord
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[common.Address]bool),
		events:  make(map[string]bool),
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
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

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, m := range msg.Markets {
			c.markets[m] = true
		}
		for _, e := range msg.Events {
			c.events[e] = true
		}
	case "unsubscribe":
		for _, m := range msg.Markets {
			delete(c.markets, m)
		}
		for _, e := range msg.Events {
			delete(c.events, e)
		}
	}
	c.reply(frame{Type: "subscribed", Payload: map[string]int{
		"markets": len(c.markets),
		"events":  len(c.events),
	}})
}

// sendHello tells the client the connection is live before any event flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	c.reply(frame{Type: "hello", Payload: map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
	}})
}

func (c *client) reply(f frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// wants reports whether ev passes the client's market and event filters.
func (c *client) wants(ev domain.EventRecord) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) > 0 && !c.markets[ev.Market] {
		return false
	}
	if len(c.events) > 0 && !c.events[ev.Name] {
		return false
	}
	return true
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ ledger.Observer = (*Hub)(nil)
