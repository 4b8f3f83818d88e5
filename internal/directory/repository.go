package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a directory repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IsSuperAdmin reports whether the user holds the platform super-admin role. Unknown users are not.
func (r *Repository) IsSuperAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = 'super_admin')`
	var ok bool
	err := r.pool.QueryRow(ctx, q, userID).Scan(&ok)
	return ok, err
}

const orgColumns = `id, name, granular_resource_permissions, granular_calendar_permissions, created_at, updated_at`

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.GranularResourcePermissions, &o.GranularCalendarPermissions, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrganization returns an organization by ID.
func (r *Repository) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	q := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	o, err := scanOrganization(r.pool.QueryRow(ctx, q, id))
	return o, notFound(err)
}

// GetResourceType returns a resource type by ID.
func (r *Repository) GetResourceType(ctx context.Context, id uuid.UUID) (*models.ResourceType, error) {
	const q = `SELECT id, organization_id, name, created_at FROM resource_types WHERE id = $1`
	var t models.ResourceType
	if err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

const resourceColumns = `id, resource_type_id, name, capacity, is_active, public_booking_token,
	public_booking_enabled, managed_by, created_at, updated_at`

// scanResource scans a row selected with the resource column list.
func scanResource(row pgx.Row) (*models.Resource, error) {
	var res models.Resource
	err := row.Scan(&res.ID, &res.ResourceTypeID, &res.Name, &res.Capacity, &res.IsActive, &res.PublicBookingToken,
		&res.PublicBookingEnabled, &res.ManagedBy, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetResource returns a resource by ID.
func (r *Repository) GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`
	res, err := scanResource(r.pool.QueryRow(ctx, q, id))
	return res, notFound(err)
}

// GetResourceByToken returns the resource carrying the public booking token.
func (r *Repository) GetResourceByToken(ctx context.Context, token string) (*models.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE public_booking_token = $1`
	res, err := scanResource(r.pool.QueryRow(ctx, q, token))
	return res, notFound(err)
}

const calendarColumns = `id, organization_id, owning_calendar_id, name, created_at`

func scanCalendars(rows pgx.Rows) ([]models.ReservationCalendar, error) {
	defer rows.Close()
	var list []models.ReservationCalendar
	for rows.Next() {
		var c models.ReservationCalendar
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.OwningCalendarID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// GetReservationCalendar returns a reservation calendar by ID.
func (r *Repository) GetReservationCalendar(ctx context.Context, id uuid.UUID) (*models.ReservationCalendar, error) {
	q := `SELECT ` + calendarColumns + ` FROM reservation_calendars WHERE id = $1`
	var c models.ReservationCalendar
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.OrganizationID, &c.OwningCalendarID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// IsOrganizationAdmin reports whether the user has an organization admin grant.
func (r *Repository) IsOrganizationAdmin(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM organization_admins WHERE organization_id = $1 AND user_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&ok)
	return ok, err
}

// IsOrganizationMember reports whether the user has any membership in the organization.
func (r *Repository) IsOrganizationMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM organization_memberships WHERE organization_id = $1 AND user_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&ok)
	return ok, err
}

// GetCalendarRole returns the user's role row on a reservation calendar.
func (r *Repository) GetCalendarRole(ctx context.Context, calendarID, userID uuid.UUID) (*models.ReservationCalendarRole, error) {
	const q = `SELECT reservation_calendar_id, user_id, role, is_auto_assigned_from_org_admin, assigned_by, created_at
		FROM reservation_calendar_roles WHERE reservation_calendar_id = $1 AND user_id = $2`
	var role models.ReservationCalendarRole
	err := r.pool.QueryRow(ctx, q, calendarID, userID).Scan(&role.ReservationCalendarID, &role.UserID, &role.Role,
		&role.IsAutoAssignedFromOrgAdmin, &role.AssignedBy, &role.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &role, nil
}

// GetResourceTypePermission returns the granular grant of a user on a resource type.
func (r *Repository) GetResourceTypePermission(ctx context.Context, orgID, userID, resourceTypeID uuid.UUID) (*models.GranularPermission, error) {
	const q = `SELECT organization_id, user_id, resource_type_id, can_view, can_edit
		FROM granular_resource_permissions WHERE organization_id = $1 AND user_id = $2 AND resource_type_id = $3`
	var p models.GranularPermission
	err := r.pool.QueryRow(ctx, q, orgID, userID, resourceTypeID).Scan(&p.OrganizationID, &p.UserID, &p.TargetID, &p.CanView, &p.CanEdit)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetCalendarPermission returns the granular grant of a user on a reservation calendar.
func (r *Repository) GetCalendarPermission(ctx context.Context, orgID, userID, calendarID uuid.UUID) (*models.GranularPermission, error) {
	const q = `SELECT organization_id, user_id, reservation_calendar_id, can_view, can_edit
		FROM granular_calendar_permissions WHERE organization_id = $1 AND user_id = $2 AND reservation_calendar_id = $3`
	var p models.GranularPermission
	err := r.pool.QueryRow(ctx, q, orgID, userID, calendarID).Scan(&p.OrganizationID, &p.UserID, &p.TargetID, &p.CanView, &p.CanEdit)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repository) queryOrganizations(ctx context.Context, q string, args ...any) ([]models.Organization, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *o)
	}
	return list, rows.Err()
}

// ListOrganizations returns every organization ordered by name.
func (r *Repository) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	return r.queryOrganizations(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name, id`)
}

// GetOrganizationsByIDs returns the organizations with the given IDs, ordered by name.
func (r *Repository) GetOrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryOrganizations(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ANY($1) ORDER BY name, id`, ids)
}

// ListReservationCalendars returns every reservation calendar ordered by name.
func (r *Repository) ListReservationCalendars(ctx context.Context) ([]models.ReservationCalendar, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+calendarColumns+` FROM reservation_calendars ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return scanCalendars(rows)
}

// GetReservationCalendarsByIDs returns the reservation calendars with the given IDs.
func (r *Repository) GetReservationCalendarsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ReservationCalendar, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+calendarColumns+` FROM reservation_calendars WHERE id = ANY($1) ORDER BY name, id`, ids)
	if err != nil {
		return nil, err
	}
	return scanCalendars(rows)
}

// ListReservationCalendarsByOrganizations returns every calendar owned by one of the organizations.
func (r *Repository) ListReservationCalendarsByOrganizations(ctx context.Context, orgIDs []uuid.UUID) ([]models.ReservationCalendar, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+calendarColumns+` FROM reservation_calendars WHERE organization_id = ANY($1) ORDER BY name, id`, orgIDs)
	if err != nil {
		return nil, err
	}
	return scanCalendars(rows)
}

func (r *Repository) queryIDs(ctx context.Context, q string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAdminOrganizationIDs returns the organizations the user administers.
func (r *Repository) ListAdminOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `SELECT organization_id FROM organization_admins WHERE user_id = $1`, userID)
}

// ListMemberOrganizationIDs returns the organizations the user is a member of.
func (r *Repository) ListMemberOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `SELECT organization_id FROM organization_memberships WHERE user_id = $1`, userID)
}

// ListCalendarRolesForUser returns every calendar role row of the user.
func (r *Repository) ListCalendarRolesForUser(ctx context.Context, userID uuid.UUID) ([]models.ReservationCalendarRole, error) {
	const q = `SELECT reservation_calendar_id, user_id, role, is_auto_assigned_from_org_admin, assigned_by, created_at
		FROM reservation_calendar_roles WHERE user_id = $1`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ReservationCalendarRole
	for rows.Next() {
		var role models.ReservationCalendarRole
		if err := rows.Scan(&role.ReservationCalendarID, &role.UserID, &role.Role,
			&role.IsAutoAssignedFromOrgAdmin, &role.AssignedBy, &role.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	return list, rows.Err()
}

func (r *Repository) queryPermissions(ctx context.Context, q string, userID uuid.UUID) ([]models.GranularPermission, error) {
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.GranularPermission
	for rows.Next() {
		var p models.GranularPermission
		if err := rows.Scan(&p.OrganizationID, &p.UserID, &p.TargetID, &p.CanView, &p.CanEdit); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListResourceTypePermissionsForUser returns every granular resource-type grant of the user.
func (r *Repository) ListResourceTypePermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.GranularPermission, error) {
	return r.queryPermissions(ctx, `SELECT organization_id, user_id, resource_type_id, can_view, can_edit
		FROM granular_resource_permissions WHERE user_id = $1`, userID)
}

// ListCalendarPermissionsForUser returns every granular calendar grant of the user.
func (r *Repository) ListCalendarPermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.GranularPermission, error) {
	return r.queryPermissions(ctx, `SELECT organization_id, user_id, reservation_calendar_id, can_view, can_edit
		FROM granular_calendar_permissions WHERE user_id = $1`, userID)
}
