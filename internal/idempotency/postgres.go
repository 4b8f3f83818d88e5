package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// PostgresStore persists records in the idempotency_records table. The
// (key, scope, user_id) primary key makes concurrent inserts race-free.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Insert(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	const ins = `INSERT INTO idempotency_records
		(key, scope, user_id, payload_fingerprint, status, stored_result, error_message, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULL, '', $6, $7, $8)
		ON CONFLICT (key, scope, user_id) DO NOTHING`
	const sel = `SELECT key, scope, user_id, payload_fingerprint, status, stored_result, error_message,
		created_at, updated_at, expires_at
		FROM idempotency_records WHERE key = $1 AND scope = $2 AND user_id = $3`

	// A row seen by ON CONFLICT can be reaped before the select; one more round settles it.
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := s.pool.Exec(ctx, ins, rec.Key, rec.Scope, rec.UserID, rec.PayloadFingerprint, rec.Status,
			rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
		if err != nil {
			return nil, false, err
		}
		if tag.RowsAffected() == 1 {
			return nil, true, nil
		}

		var existing models.IdempotencyRecord
		var result []byte
		err = s.pool.QueryRow(ctx, sel, rec.Key, rec.Scope, rec.UserID).Scan(&existing.Key, &existing.Scope, &existing.UserID,
			&existing.PayloadFingerprint, &existing.Status, &result, &existing.ErrorMessage,
			&existing.CreatedAt, &existing.UpdatedAt, &existing.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		existing.StoredResult = result
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("idempotency record for %q vanished during insert", rec.Key)
}

func (s *PostgresStore) Reclaim(ctx context.Context, rec *models.IdempotencyRecord, cond ReclaimCondition) (bool, error) {
	const q = `UPDATE idempotency_records
		SET payload_fingerprint = $4, status = $5, stored_result = NULL, error_message = '',
			created_at = $6, updated_at = $7, expires_at = $8
		WHERE key = $1 AND scope = $2 AND user_id = $3
		  AND (expires_at <= $9
		       OR (payload_fingerprint = $4
		           AND (status = 'FAILED' OR (status = 'IN_PROGRESS' AND updated_at <= $10))))`
	tag, err := s.pool.Exec(ctx, q, rec.Key, rec.Scope, rec.UserID, rec.PayloadFingerprint, rec.Status,
		rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt, cond.Now, cond.StaleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Finish(ctx context.Context, rec *models.IdempotencyRecord, leaseAt time.Time) error {
	const q = `UPDATE idempotency_records
		SET status = $4, stored_result = $5, error_message = $6, updated_at = $7
		WHERE key = $1 AND scope = $2 AND user_id = $3 AND status = 'IN_PROGRESS' AND updated_at = $8`
	var result []byte
	if len(rec.StoredResult) > 0 {
		result = rec.StoredResult
	}
	tag, err := s.pool.Exec(ctx, q, rec.Key, rec.Scope, rec.UserID, rec.Status, result, rec.ErrorMessage, rec.UpdatedAt, leaseAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
