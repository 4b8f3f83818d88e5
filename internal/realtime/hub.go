package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains resource_id -> set of connections and broadcasts reservation events.
// Uses Redis pub/sub for horizontal scaling: every instance listens for the rooms it serves.
type Hub struct {
	// resourceID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per room
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishResourceEvent(ctx context.Context, resourceID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to resource channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeResource(resourceID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a resource room. Starts the Redis subscription for the room if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.ResourceID] == nil {
		h.rooms[c.ResourceID] = make(map[string]*Client)
		if h.redisSub != nil {
			resourceID := c.ResourceID
			cancel, err := h.redisSub.SubscribeResource(resourceID, func(event string, payload []byte) {
				h.Broadcast(resourceID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("subscribe resource channel", zap.String("resource_id", resourceID.String()), zap.Error(err))
			} else {
				h.subs[resourceID] = cancel
			}
		}
	}
	h.rooms[c.ResourceID][c.ID] = c
	h.logger.Debug("client joined resource room", zap.String("client_id", c.ID), zap.String("resource_id", c.ResourceID.String()))
}

// Unregister removes a client from its room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.rooms[c.ResourceID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.ResourceID)
			if cancel, ok := h.subs[c.ResourceID]; ok {
				cancel()
				delete(h.subs, c.ResourceID)
			}
		}
	}
	h.logger.Debug("client left resource room", zap.String("client_id", c.ID), zap.String("resource_id", c.ResourceID.String()))
}

// Broadcast sends a message to all clients in a room (local only).
func (h *Hub) Broadcast(resourceID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[resourceID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to the room on every instance. With Redis configured the
// subscriber callback performs the broadcast, including for this instance, so local
// clients receive it once.
func (h *Hub) Publish(ctx context.Context, resourceID uuid.UUID, event string, payload interface{}) error {
	if h.redis == nil {
		h.Broadcast(resourceID, event, payload)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.redis.PublishResourceEvent(ctx, resourceID, event, data)
}

// RoomSize returns the number of connected clients watching a resource.
func (h *Hub) RoomSize(resourceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[resourceID])
}
