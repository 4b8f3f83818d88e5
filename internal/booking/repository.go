package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/database"
)

const reservationColumns = `id, resource_id, start_time, end_time, quantity, status, created_by,
	customer_name, customer_email, customer_phone, notes, created_at, updated_at`

// Repository is the Postgres Store. Admission runs under READ COMMITTED with the
// resource row locked FOR UPDATE, which serializes writers per resource.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a reservations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(&r.ID, &r.ResourceID, &r.StartTime, &r.EndTime, &r.Quantity, &r.Status, &r.CreatedBy,
		&r.CustomerName, &r.CustomerEmail, &r.CustomerPhone, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]models.Reservation, error) {
	defer rows.Close()
	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func getReservation(ctx context.Context, q querier, id uuid.UUID) (*models.Reservation, error) {
	return scanReservation(q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
}

func listOverlapping(ctx context.Context, q querier, resourceID uuid.UUID, start, end time.Time, extra string) ([]models.Reservation, error) {
	sql := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE resource_id = $1 AND start_time < $3 AND end_time > $2` + extra
	rows, err := q.Query(ctx, sql, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// WithResourceLock opens a transaction, locks the resource row and runs fn.
func (r *Repository) WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func(tx Tx) error) error {
	return database.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		const q = `SELECT id, resource_type_id, name, capacity, is_active, public_booking_token,
			public_booking_enabled, managed_by, created_at, updated_at
			FROM resources WHERE id = $1 FOR UPDATE`
		var res models.Resource
		err := tx.QueryRow(ctx, q, resourceID).Scan(&res.ID, &res.ResourceTypeID, &res.Name, &res.Capacity,
			&res.IsActive, &res.PublicBookingToken, &res.PublicBookingEnabled, &res.ManagedBy, &res.CreatedAt, &res.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fn(&pgTx{tx: tx, resource: &res})
	})
}

// GetReservation returns a reservation by ID.
func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return getReservation(ctx, r.pool, id)
}

// ListOverlapping returns reservations of the resource overlapping [start, end).
func (r *Repository) ListOverlapping(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	return listOverlapping(ctx, r.pool, resourceID, start, end, "")
}

// ListReservations returns reservations overlapping the window ordered by start time.
func (r *Repository) ListReservations(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	return listOverlapping(ctx, r.pool, resourceID, start, end, ` ORDER BY start_time, created_at`)
}

type pgTx struct {
	tx       pgx.Tx
	resource *models.Resource
}

func (t *pgTx) Resource() *models.Resource { return t.resource }

func (t *pgTx) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return getReservation(ctx, t.tx, id)
}

func (t *pgTx) ListOverlapping(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	return listOverlapping(ctx, t.tx, resourceID, start, end, "")
}

func (t *pgTx) ListWaitlisted(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	return listOverlapping(ctx, t.tx, resourceID, start, end, ` AND status = 'WAITLIST' ORDER BY created_at, id`)
}

func (t *pgTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	const q = `INSERT INTO reservations (resource_id, start_time, end_time, quantity, status, created_by,
		customer_name, customer_email, customer_phone, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	return t.tx.QueryRow(ctx, q, r.ResourceID, r.StartTime, r.EndTime, r.Quantity, r.Status, r.CreatedBy,
		r.CustomerName, r.CustomerEmail, r.CustomerPhone, r.Notes).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (t *pgTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	const q = `UPDATE reservations SET start_time = $2, end_time = $3, quantity = $4, status = $5,
		customer_name = $6, customer_email = $7, customer_phone = $8, notes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := t.tx.QueryRow(ctx, q, r.ID, r.StartTime, r.EndTime, r.Quantity, r.Status,
		r.CustomerName, r.CustomerEmail, r.CustomerPhone, r.Notes).Scan(&r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
