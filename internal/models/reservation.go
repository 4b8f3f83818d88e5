package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationWaitlist  ReservationStatus = "WAITLIST"
)

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationCompleted, ReservationCancelled, ReservationWaitlist:
		return true
	}
	return false
}

// HoldsCapacity reports whether reservations in this status consume resource capacity.
// WAITLIST never does.
func (s ReservationStatus) HoldsCapacity() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Reservation books Quantity units of a resource over [StartTime, EndTime).
type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	ResourceID    uuid.UUID         `json:"resource_id"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Quantity      int               `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	CreatedBy     *uuid.UUID        `json:"created_by,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
