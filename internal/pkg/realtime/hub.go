package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fitroom/fitroom-api/internal/pkg/metrics"
)

const (
	eventsChannel = "credits:events"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// EventBalance is sent whenever a ledger mutation is applied.
const EventBalance = "balance"

// Event is the message pushed to admin sessions of a shop.
type Event struct {
	Type    string `json:"type"`
	Shop    string `json:"shop"`
	Balance int    `json:"balance"`
	Delta   int    `json:"delta"`
	Kind    string `json:"kind,omitempty"`
}

type envelope struct {
	Instance string `json:"instance"`
	Event    Event  `json:"event"`
}

type client struct {
	shop string
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the websocket sessions of this instance keyed by shop. With Redis
// configured, events published on any instance reach every instance.
type Hub struct {
	clients map[string]map[*client]struct{}
	mu      sync.RWMutex

	redis      *redis.Client
	instanceID string
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. redisClient may be nil.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		redis:      redisClient,
		instanceID: uuid.NewString(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run consumes the Redis channel until Stop is called.
func (h *Hub) Run() {
	if h.redis == nil {
		<-h.ctx.Done()
		return
	}

	pubsub := h.redis.Subscribe(h.ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed realtime event")
				continue
			}
			if env.Instance == h.instanceID {
				continue
			}
			h.deliver(env.Event)
		}
	}
}

// Stop ends Run and closes every local session.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for shop, set := range h.clients {
		for c := range set {
			close(c.send)
			metrics.RealtimeConnections.Dec()
		}
		delete(h.clients, shop)
	}
}

// Publish delivers ev to local sessions and fans it out through Redis.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.Type == "" {
		ev.Type = EventBalance
	}
	h.deliver(ev)

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(envelope{Instance: h.instanceID, Event: ev})
	if err != nil {
		return
	}
	if err := h.redis.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("shop", ev.Shop).Msg("Failed to fan out realtime event")
	}
}

// Connections returns the number of local sessions for shop.
func (h *Hub) Connections(shop string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[shop])
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ev.Shop] {
		select {
		case c.send <- data:
		default:
			log.Debug().Str("shop", ev.Shop).Msg("Realtime buffer full, event dropped")
		}
	}
}

// ServeWS upgrades the request and attaches the session to shop.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, shop string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{shop: shop, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.shop] == nil {
		h.clients[c.shop] = make(map[*client]struct{})
	}
	h.clients[c.shop][c] = struct{}{}
	metrics.RealtimeConnections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.shop]
	if !ok {
		return
	}
	if _, exists := set[c]; !exists {
		return
	}
	delete(set, c)
	close(c.send)
	metrics.RealtimeConnections.Dec()
	if len(set) == 0 {
		delete(h.clients, c.shop)
	}
}

// readPump only handles control frames; the feed is server to client.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
