package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationCalendar is a calendar specialized for resource scheduling, scoped to one organization.
type ReservationCalendar struct {
	ID               uuid.UUID `json:"id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	OwningCalendarID uuid.UUID `json:"owning_calendar_id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
}

// CalendarRole is a role on a reservation calendar.
type CalendarRole string

const (
	CalendarRoleEditor   CalendarRole = "EDITOR"
	CalendarRoleReviewer CalendarRole = "REVIEWER"
)

// ReservationCalendarRole assigns a calendar role to a user. Rows with
// IsAutoAssignedFromOrgAdmin set mirror an organization admin grant and are
// only removed together with that grant.
type ReservationCalendarRole struct {
	ReservationCalendarID      uuid.UUID    `json:"reservation_calendar_id"`
	UserID                     uuid.UUID    `json:"user_id"`
	Role                       CalendarRole `json:"role"`
	IsAutoAssignedFromOrgAdmin bool         `json:"is_auto_assigned_from_org_admin"`
	AssignedBy                 *uuid.UUID   `json:"assigned_by,omitempty"`
	CreatedAt                  time.Time    `json:"created_at"`
}
