// Package ws pushes market refresh notices to browser clients over
// WebSocket. The hub subscribes to the signal bus and fans each message out
// to the clients subscribed to its channel.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// DefaultChannels are the bus channels the hub relays.
var DefaultChannels = []string{domain.ChannelMarketsRefreshed}

// Status is the snapshot summary sent to a client when it connects.
type Status struct {
	Generation  uint64    `json:"generation"`
	MarketCount int       `json:"market_count"`
	NoMarkets   bool      `json:"no_markets"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Config captures runtime metadata for the hub.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
	// Status reports the current snapshot; nil sends no snapshot details.
	Status func() (Status, bool)
}

// Hub tracks connected clients and relays bus messages to them.
type Hub struct {
	bus       domain.SignalBus
	channels  []string
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time
	status    func() (Status, bool)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub bridging bus to WebSocket clients. A nil bus gives a
// hub that only sends the connect-time status.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus:       bus,
		channels:  DefaultChannels,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		status:    cfg.Status,
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker allows every origin when none are configured, and requests
// without an Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run relays the bus channels until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if h.bus != nil {
		for _, ch := range h.channels {
			wg.Go(func() { h.relay(ctx, ch) })
		}
	}
	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			h.fanOut(channel, data)
		}
	}
}

// fanOut queues data for every client subscribed to channel. A client whose
// queue is full misses the message.
func (h *Hub) fanOut(channel string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", channel))
		}
	}
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.queue(h.statusFrame())
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

// remove drops c and closes its queue, which stops its write pump.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
}
