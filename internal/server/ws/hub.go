// Package ws bridges the oracle's signal bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Channels bridged from the bus. Clients are subscribed to all of them on
// connect and may narrow the set.
var Channels = []string{
	domain.ChannelConsensus,
	domain.ChannelBooks,
	domain.ChannelStatus,
}

// Frame types sent to clients.
const (
	frameHello         = "hello"
	frameSnapshot      = "snapshot"
	frameEvent         = "event"
	frameSubscriptions = "subscriptions"
	frameError         = "error"
)

// Config describes the hub's origin policy and the metadata in the
// greeting sent to new clients.
type Config struct {
	Mode           string
	Pair           string
	AllowedOrigins []string
	StartedAt      time.Time
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type busEvent struct {
	channel string
	data    json.RawMessage
}

// Hub fans bus messages out to connected clients. The latest payload of
// each channel is kept so a client joining between cycles gets the current
// consensus immediately instead of waiting for the next one.
type Hub struct {
	cfg      Config
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	events     chan busEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string]json.RawMessage
}

// NewHub creates a Hub over bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		cfg:        cfg,
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		events:     make(chan busEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		latest:     make(map[string]json.RawMessage, len(Channels)),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// Run subscribes to the bus and serves clients until ctx is cancelled. A
// channel whose subscription fails is logged and skipped. Run must be
// called once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "ws: subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.pump(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			clear(h.clients)
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.replay(c)
			h.logger.InfoContext(ctx, "ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "ws: client disconnected", slog.Int("total_clients", n))

		case ev := <-h.events:
			h.fanOut(ctx, ev)
		}
	}
}

// pump moves one bus subscription onto the hub's event queue. Payloads
// that are not JSON are dropped here since every frame embeds them raw.
func (h *Hub) pump(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			if !json.Valid(data) {
				h.logger.WarnContext(ctx, "ws: drop non-json payload", slog.String("channel", channel))
				continue
			}
			select {
			case h.events <- busEvent{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, ev busEvent) {
	frame, err := json.Marshal(envelope{Type: frameEvent, Channel: ev.channel, Payload: ev.data})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.latest[ev.channel] = ev.data
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(ev.channel) {
			continue
		}
		if !c.enqueue(frame) {
			h.logger.WarnContext(ctx, "ws: dropping frame for slow client", slog.String("channel", ev.channel))
		}
	}
}

// replay sends c the latest payload of every channel it is subscribed to.
func (h *Hub) replay(c *client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range Channels {
		data, ok := h.latest[ch]
		if !ok || !c.subscribed(ch) {
			continue
		}
		if frame, err := json.Marshal(envelope{Type: frameSnapshot, Channel: ch, Payload: data}); err == nil {
			c.enqueue(frame)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) hasSnapshot(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.latest[channel]
	return ok
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.enqueue(h.hello())

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) hello() []byte {
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.cfg.Mode,
		"pair":           h.cfg.Pair,
		"channels":       Channels,
		"uptime_seconds": max(0, int64(time.Since(h.cfg.StartedAt).Seconds())),
	})
	frame, _ := json.Marshal(envelope{Type: frameHello, Payload: payload})
	return frame
}
