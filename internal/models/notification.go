package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is one in-app inbox entry for a recipient of a reservation event.
type Notification struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Type          string          `json:"type"`
	ReservationID uuid.UUID       `json:"reservation_id"`
	ResourceID    uuid.UUID       `json:"resource_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ReadAt        *time.Time      `json:"read_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
