package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Csepi/cal3-sub003/internal/models"
)

// ErrLeaseLost is returned by Store.Finish when the record is no longer held by the caller's lease.
var ErrLeaseLost = errors.New("idempotency: lease lost")

// ReclaimCondition states when an existing record may be taken over: it has expired,
// or it carries Fingerprint and is either FAILED or IN_PROGRESS since StaleBefore.
type ReclaimCondition struct {
	Now         time.Time
	StaleBefore time.Time
	Fingerprint string
}

// Store persists idempotency records keyed by (key, scope, user).
type Store interface {
	// Insert creates rec unless a record with the same identity exists, in which case
	// that record is returned with inserted=false.
	Insert(ctx context.Context, rec *models.IdempotencyRecord) (existing *models.IdempotencyRecord, inserted bool, err error)
	// Reclaim overwrites the stored record with rec when cond still holds. It reports
	// false when another caller changed the record first.
	Reclaim(ctx context.Context, rec *models.IdempotencyRecord, cond ReclaimCondition) (bool, error)
	// Finish stores the terminal state of rec if the record is still IN_PROGRESS
	// with UpdatedAt equal to leaseAt, and returns ErrLeaseLost otherwise.
	Finish(ctx context.Context, rec *models.IdempotencyRecord, leaseAt time.Time) error
	// DeleteExpired removes records whose ExpiresAt is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func reclaimable(rec *models.IdempotencyRecord, cond ReclaimCondition) bool {
	if !rec.ExpiresAt.After(cond.Now) {
		return true
	}
	if rec.PayloadFingerprint != cond.Fingerprint {
		return false
	}
	switch rec.Status {
	case models.IdempotencyFailed:
		return true
	case models.IdempotencyInProgress:
		return !rec.UpdatedAt.After(cond.StaleBefore)
	}
	return false
}

// OpenStore returns the store for backend: "postgres", "redis" or "memory".
func OpenStore(backend string, pool *pgxpool.Pool, client *redis.Client) (Store, error) {
	switch backend {
	case "postgres":
		if pool == nil {
			return nil, errors.New("idempotency: postgres backend needs a pool")
		}
		return NewPostgresStore(pool), nil
	case "redis":
		if client == nil {
			return nil, errors.New("idempotency: redis backend needs a client")
		}
		return NewRedisStore(client), nil
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("idempotency: unknown backend %q", backend)
}
