package models

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType groups resources inside an organization.
type ResourceType struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Resource is a bookable unit with a capacity.
type Resource struct {
	ID                   uuid.UUID  `json:"id"`
	ResourceTypeID       uuid.UUID  `json:"resource_type_id"`
	Name                 string     `json:"name"`
	Capacity             int        `json:"capacity"`
	IsActive             bool       `json:"is_active"`
	PublicBookingToken   *string    `json:"-"`
	PublicBookingEnabled bool       `json:"public_booking_enabled"`
	ManagedBy            *uuid.UUID `json:"managed_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
