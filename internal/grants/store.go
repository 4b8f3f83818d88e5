// Package grants writes organization admin grants and reservation calendar roles,
// keeping the auto-assigned calendar roles of organization admins in step.
package grants

import (
	"context"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
)

// Store persists grants. Missing organizations, calendars and rows are reported as directory.ErrNotFound.
type Store interface {
	// GrantOrganizationAdmin stores the admin row and auto-assigned EDITOR roles on the
	// organization's calendars where the user has none. It returns the number of roles added.
	GrantOrganizationAdmin(ctx context.Context, orgID, userID, grantedBy uuid.UUID) (int, error)
	// RevokeOrganizationAdmin deletes the admin row and only the auto-assigned roles.
	RevokeOrganizationAdmin(ctx context.Context, orgID, userID uuid.UUID) (int, error)
	SyncCalendarAdmins(ctx context.Context, calendarID uuid.UUID) ([]uuid.UUID, error)
	UpsertCalendarRole(ctx context.Context, role models.ReservationCalendarRole) error
	DeleteCalendarRole(ctx context.Context, calendarID, userID uuid.UUID) error
	// SetPublicBooking flips the resource's public booking flag. A nil token keeps the current one.
	SetPublicBooking(ctx context.Context, resourceID uuid.UUID, token *string, enabled bool) error
}

var _ Store = (*directory.Memory)(nil)
