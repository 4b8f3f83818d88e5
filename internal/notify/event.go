// Package notify carries reservation events from the booking flow to their consumers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// EventType names a reservation lifecycle event. It doubles as the AMQP routing key.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationUpdated   EventType = "reservation.updated"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationPromoted  EventType = "reservation.promoted"
)

// Event describes one committed reservation change.
type Event struct {
	Type          EventType           `json:"type"`
	ReservationID uuid.UUID           `json:"reservation_id"`
	ResourceID    uuid.UUID           `json:"resource_id"`
	ActorID       uuid.UUID           `json:"actor_id"`
	Recipients    []uuid.UUID         `json:"recipients"`
	Reservation   *models.Reservation `json:"reservation,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recipients returns the distinct non-empty candidates other than the actor, in order.
func Recipients(actor uuid.UUID, candidates ...*uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{uuid.Nil: true, actor: true}
	var out []uuid.UUID
	for _, c := range candidates {
		if c == nil || seen[*c] {
			continue
		}
		seen[*c] = true
		out = append(out, *c)
	}
	return out
}

// NewEvent builds an event for r.
func NewEvent(t EventType, actor uuid.UUID, r *models.Reservation, recipients []uuid.UUID, at time.Time) Event {
	snapshot := *r
	return Event{
		Type:          t,
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		ActorID:       actor,
		Recipients:    recipients,
		Reservation:   &snapshot,
		OccurredAt:    at,
	}
}
