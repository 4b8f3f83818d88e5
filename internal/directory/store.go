// Package directory provides read access to organizations, resources, calendars and grants.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// ErrNotFound is returned by lookups when the row does not exist.
var ErrNotFound = errors.New("directory: not found")

// ErrAutoAssigned is returned when a write would replace a calendar role that came from an organization admin grant.
var ErrAutoAssigned = errors.New("directory: calendar role is auto-assigned")

// Store is the read side consulted by the permission resolver and the booking orchestrator.
// Optional rows (calendar roles, granular grants) report ErrNotFound when absent.
type Store interface {
	IsSuperAdmin(ctx context.Context, userID uuid.UUID) (bool, error)

	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetResourceType(ctx context.Context, id uuid.UUID) (*models.ResourceType, error)
	GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error)
	GetResourceByToken(ctx context.Context, token string) (*models.Resource, error)
	GetReservationCalendar(ctx context.Context, id uuid.UUID) (*models.ReservationCalendar, error)

	IsOrganizationAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	IsOrganizationMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	GetCalendarRole(ctx context.Context, calendarID, userID uuid.UUID) (*models.ReservationCalendarRole, error)
	GetResourceTypePermission(ctx context.Context, orgID, userID, resourceTypeID uuid.UUID) (*models.GranularPermission, error)
	GetCalendarPermission(ctx context.Context, orgID, userID, calendarID uuid.UUID) (*models.GranularPermission, error)

	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	ListReservationCalendars(ctx context.Context) ([]models.ReservationCalendar, error)
	GetOrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Organization, error)
	GetReservationCalendarsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ReservationCalendar, error)
	ListReservationCalendarsByOrganizations(ctx context.Context, orgIDs []uuid.UUID) ([]models.ReservationCalendar, error)

	ListAdminOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListMemberOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListCalendarRolesForUser(ctx context.Context, userID uuid.UUID) ([]models.ReservationCalendarRole, error)
	ListResourceTypePermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.GranularPermission, error)
	ListCalendarPermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.GranularPermission, error)
}
