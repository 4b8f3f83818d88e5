package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomChannelPrefix = "reservations:resource:"
	publishTimeout    = 5 * time.Second
)

func roomChannel(resourceID uuid.UUID) string { return roomChannelPrefix + resourceID.String() }

// RoomEnvelope is what travels over Redis between instances for one room event.
type RoomEnvelope struct {
	ResourceID  uuid.UUID       `json:"resource_id"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Origin      string          `json:"origin"`
	PublishedAt time.Time       `json:"published_at"`
}

type roomHandler func(event string, payload []byte)

// RedisPubSub bridges resource rooms across instances. All rooms share one pattern
// subscription, opened with the first room and closed by Close.
type RedisPubSub struct {
	client   *redis.Client
	logger   *zap.Logger
	instance string

	mu       sync.Mutex
	handlers map[uuid.UUID]map[uint64]roomHandler
	nextID   uint64
	pubsub   *redis.PubSub
	stop     context.CancelFunc
}

// NewRedisPubSub creates a Redis bridge for resource room events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{
		client:   client,
		logger:   logger,
		instance: uuid.NewString(),
		handlers: make(map[uuid.UUID]map[uint64]roomHandler),
	}
}

// PublishResourceEvent sends payload to every instance watching resourceID.
func (r *RedisPubSub) PublishResourceEvent(ctx context.Context, resourceID uuid.UUID, event string, payload []byte) error {
	body, err := json.Marshal(RoomEnvelope{
		ResourceID:  resourceID,
		Event:       event,
		Data:        payload,
		Origin:      r.instance,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode room event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, roomChannel(resourceID), body).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// SubscribeResource registers handler for resourceID's events. The returned cancel removes it.
func (r *RedisPubSub) SubscribeResource(resourceID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		if err := r.listen(); err != nil {
			return nil, err
		}
	}
	r.nextID++
	id := r.nextID
	if r.handlers[resourceID] == nil {
		r.handlers[resourceID] = make(map[uint64]roomHandler)
	}
	r.handlers[resourceID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[resourceID], id)
			if len(r.handlers[resourceID]) == 0 {
				delete(r.handlers, resourceID)
			}
		})
	}, nil
}

// listen opens the shared pattern subscription. Called with r.mu held.
func (r *RedisPubSub) listen() error {
	ctx, stop := context.WithCancel(context.Background())
	pubsub := r.client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		stop()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	r.pubsub, r.stop = pubsub, stop
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(msg)
			}
		}
	}()
	return nil
}

func (r *RedisPubSub) deliver(msg *redis.Message) {
	var env RoomEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warn("invalid room event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if strings.TrimPrefix(msg.Channel, roomChannelPrefix) != env.ResourceID.String() {
		r.logger.Warn("room event on foreign channel",
			zap.String("channel", msg.Channel),
			zap.String("resource_id", env.ResourceID.String()))
		return
	}

	r.mu.Lock()
	targets := make([]roomHandler, 0, len(r.handlers[env.ResourceID]))
	for _, h := range r.handlers[env.ResourceID] {
		targets = append(targets, h)
	}
	r.mu.Unlock()

	for _, h := range targets {
		h(env.Event, env.Data)
	}
}

// Close stops the shared subscription.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	r.stop()
	err := r.pubsub.Close()
	r.pubsub, r.stop = nil, nil
	return err
}
