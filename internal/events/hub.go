package events

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
)

const (
	eventsChannel = "billing:events"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Event is one engine notification pushed to a subscribed caller.
type Event struct {
	Type             string      `json:"type"`
	UserID           uuid.UUID   `json:"user_id"`
	Payload          interface{} `json:"payload,omitempty"`
	SenderInstanceID string      `json:"sender_instance_id,omitempty"`
}

// Connection represents one subscribed websocket.
type Connection struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans billing events out to websocket subscribers. With Redis the
// fan-out crosses instances via Pub/Sub; without it events stay local.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
}

func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}

	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, eventsChannel)
	}

	return h
}

// Run processes connection lifecycle and Redis fan-out until Stop is called.
func (h *Hub) Run() {
	var redisCh <-chan *redis.Message
	if h.pubsub != nil {
		redisCh = h.pubsub.Channel()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.UserID] == nil {
				h.connections[conn.UserID] = make(map[*Connection]bool)
			}
			h.connections[conn.UserID][conn] = true
			h.mu.Unlock()
			log.Debug().Str("user_id", conn.UserID.String()).Msg("events subscriber connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.UserID]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					close(conn.Send)
					if len(conns) == 0 {
						delete(h.connections, conn.UserID)
					}
				}
			}
			h.mu.Unlock()

		case msg, ok := <-redisCh:
			if !ok {
				redisCh = nil
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Msg("malformed event on pub/sub channel")
				continue
			}
			if event.SenderInstanceID == h.instanceID {
				continue // already delivered locally
			}
			h.deliverLocal(&event)
		}
	}
}

// Stop shuts the hub down and closes all subscriber connections.
func (h *Hub) Stop() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.connections {
		for conn := range conns {
			close(conn.Send)
			if conn.Conn != nil {
				conn.Conn.Close()
			}
		}
	}
	h.connections = make(map[uuid.UUID]map[*Connection]bool)
}

// Publish delivers an event to a user's local subscribers and, when Redis is
// configured, to subscribers on other instances.
func (h *Hub) Publish(ctx context.Context, eventType string, userID uuid.UUID, payload interface{}) {
	event := Event{
		Type:             eventType,
		UserID:           userID,
		Payload:          payload,
		SenderInstanceID: h.instanceID,
	}

	h.deliverLocal(&event)

	if h.redis == nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event")
		return
	}
	if err := h.redis.Publish(ctx, eventsChannel, raw).Err(); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event to redis")
	}
}

func (h *Hub) deliverLocal(event *Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.connections[event.UserID] {
		select {
		case conn.Send <- raw:
		default:
			// Slow subscriber; drop rather than block billing.
			log.Warn().Str("user_id", event.UserID.String()).Msg("event dropped for slow subscriber")
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request and subscribes it to the user's
// event stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Connection{
		UserID: userID,
		Conn:   ws,
		Send:   make(chan []byte, 64),
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump(h)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscribers only receive; any inbound frame besides control is ignored.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
