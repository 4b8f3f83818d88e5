package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/pkg/queue"
)

// QueuePublisher hands events with recipients to the worker through the Redis job queue.
type QueuePublisher struct {
	queue *queue.Queue
}

func NewQueuePublisher(q *queue.Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

func (p *QueuePublisher) Publish(ctx context.Context, ev Event) error {
	if len(ev.Recipients) == 0 {
		return nil
	}
	if _, err := p.queue.Enqueue(ctx, queue.JobTypeReservationEvent, ev); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.Type, err)
	}
	return nil
}

// RoomPublisher is the realtime hub as seen by HubPublisher.
type RoomPublisher interface {
	Publish(ctx context.Context, resourceID uuid.UUID, event string, payload interface{}) error
}

// HubPublisher pushes events to websocket clients watching the resource.
type HubPublisher struct {
	hub RoomPublisher
}

func NewHubPublisher(hub RoomPublisher) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, ev Event) error {
	return p.hub.Publish(ctx, ev.ResourceID, string(ev.Type), ev)
}

// Fanout publishes every event to all publishers and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
