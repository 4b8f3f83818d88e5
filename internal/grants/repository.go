package grants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/database"
)

// Repository is the PostgreSQL Store. Multi-row grants run in one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a grants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func exists(ctx context.Context, tx pgx.Tx, q string, id uuid.UUID) error {
	var ok bool
	if err := tx.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return directory.ErrNotFound
	}
	return nil
}

func (r *Repository) GrantOrganizationAdmin(ctx context.Context, orgID, userID, grantedBy uuid.UUID) (int, error) {
	var added int
	err := database.WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, orgID); err != nil {
			return err
		}
		const insertAdmin = `INSERT INTO organization_admins (organization_id, user_id, granted_by)
			VALUES ($1, $2, $3)
			ON CONFLICT (organization_id, user_id) DO NOTHING`
		if _, err := tx.Exec(ctx, insertAdmin, orgID, userID, grantedBy); err != nil {
			return err
		}
		const insertRoles = `INSERT INTO reservation_calendar_roles
			(reservation_calendar_id, user_id, role, is_auto_assigned_from_org_admin, assigned_by)
			SELECT id, $2, 'EDITOR', TRUE, $3 FROM reservation_calendars WHERE organization_id = $1
			ON CONFLICT (reservation_calendar_id, user_id) DO NOTHING`
		tag, err := tx.Exec(ctx, insertRoles, orgID, userID, grantedBy)
		if err != nil {
			return err
		}
		added = int(tag.RowsAffected())
		return nil
	})
	return added, err
}

func (r *Repository) RevokeOrganizationAdmin(ctx context.Context, orgID, userID uuid.UUID) (int, error) {
	var removed int
	err := database.WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM organization_admins WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return directory.ErrNotFound
		}
		const deleteRoles = `DELETE FROM reservation_calendar_roles r
			USING reservation_calendars c
			WHERE r.reservation_calendar_id = c.id AND c.organization_id = $1
			  AND r.user_id = $2 AND r.is_auto_assigned_from_org_admin`
		tag, err = tx.Exec(ctx, deleteRoles, orgID, userID)
		if err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	return removed, err
}

func (r *Repository) SyncCalendarAdmins(ctx context.Context, calendarID uuid.UUID) ([]uuid.UUID, error) {
	var added []uuid.UUID
	err := database.WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM reservation_calendars WHERE id = $1)`, calendarID); err != nil {
			return err
		}
		const q = `INSERT INTO reservation_calendar_roles
			(reservation_calendar_id, user_id, role, is_auto_assigned_from_org_admin)
			SELECT c.id, a.user_id, 'EDITOR', TRUE
			FROM reservation_calendars c
			JOIN organization_admins a ON a.organization_id = c.organization_id
			WHERE c.id = $1
			ON CONFLICT (reservation_calendar_id, user_id) DO NOTHING
			RETURNING user_id`
		rows, err := tx.Query(ctx, q, calendarID)
		if err != nil {
			return err
		}
		added, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		return err
	})
	return added, err
}

func (r *Repository) UpsertCalendarRole(ctx context.Context, role models.ReservationCalendarRole) error {
	const q = `INSERT INTO reservation_calendar_roles
		(reservation_calendar_id, user_id, role, is_auto_assigned_from_org_admin, assigned_by)
		SELECT id, $2, $3, $4, $5 FROM reservation_calendars WHERE id = $1
		ON CONFLICT (reservation_calendar_id, user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    is_auto_assigned_from_org_admin = EXCLUDED.is_auto_assigned_from_org_admin,
		    assigned_by = EXCLUDED.assigned_by
		WHERE NOT reservation_calendar_roles.is_auto_assigned_from_org_admin`
	tag, err := r.pool.Exec(ctx, q, role.ReservationCalendarID, role.UserID, role.Role, role.IsAutoAssignedFromOrgAdmin, role.AssignedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// no row: either the calendar is missing or the existing row is auto-assigned
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservation_calendars WHERE id = $1)`, role.ReservationCalendarID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return directory.ErrAutoAssigned
	}
	return directory.ErrNotFound
}

func (r *Repository) DeleteCalendarRole(ctx context.Context, calendarID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reservation_calendar_roles WHERE reservation_calendar_id = $1 AND user_id = $2`, calendarID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func (r *Repository) SetPublicBooking(ctx context.Context, resourceID uuid.UUID, token *string, enabled bool) error {
	const q = `UPDATE resources
		SET public_booking_token = COALESCE($2, public_booking_token),
		    public_booking_enabled = $3,
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, resourceID, token, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// isNotFound reports a missing row from either store.
func isNotFound(err error) bool {
	return errors.Is(err, directory.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
