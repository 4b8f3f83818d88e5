package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a tenant owning resource types and reservation calendars.
// The granular flags switch the permission tier consulted for its targets.
type Organization struct {
	ID                          uuid.UUID `json:"id"`
	Name                        string    `json:"name"`
	GranularResourcePermissions bool      `json:"granular_resource_permissions"`
	GranularCalendarPermissions bool      `json:"granular_calendar_permissions"`
	CreatedAt                   time.Time `json:"created_at"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// MembershipRole is the role of a user inside an organization.
type MembershipRole string

const (
	MembershipMember MembershipRole = "MEMBER"
	MembershipAdmin  MembershipRole = "ADMIN"
)

// OrganizationMembership is baseline org access used when granular permissions are off.
type OrganizationMembership struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Role           MembershipRole `json:"role"`
	CreatedAt      time.Time      `json:"created_at"`
}

// OrganizationAdmin grants admin rights over a whole organization.
type OrganizationAdmin struct {
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         uuid.UUID  `json:"user_id"`
	GrantedBy      *uuid.UUID `json:"granted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GranularPermission is an explicit per-user view/edit grant on one target
// (a resource type or a reservation calendar).
type GranularPermission struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	TargetID       uuid.UUID `json:"target_id"`
	CanView        bool      `json:"can_view"`
	CanEdit        bool      `json:"can_edit"`
}

// EffectiveView reports view access; edit always implies view regardless of the stored flag.
func (p GranularPermission) EffectiveView() bool {
	return p.CanView || p.CanEdit
}
