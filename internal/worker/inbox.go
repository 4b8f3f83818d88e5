package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// InboxRepository writes notifications to Postgres. A redelivered event hits the
// (user_id, type, reservation_id, created_at) unique key and is skipped.
type InboxRepository struct {
	pool *pgxpool.Pool
}

var _ Inbox = (*InboxRepository)(nil)

// NewInboxRepository creates an inbox repository.
func NewInboxRepository(pool *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{pool: pool}
}

// Deliver inserts notes in one batch.
func (r *InboxRepository) Deliver(ctx context.Context, notes []models.Notification) error {
	const q = `INSERT INTO notifications (user_id, type, reservation_id, resource_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, type, reservation_id, created_at) DO NOTHING`
	batch := &pgx.Batch{}
	for _, n := range notes {
		batch.Queue(q, n.UserID, n.Type, n.ReservationID, n.ResourceID, n.Payload, n.CreatedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
