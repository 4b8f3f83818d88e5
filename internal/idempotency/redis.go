package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Csepi/cal3-sub003/internal/models"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps records as JSON values that expire with the record.
// Insert uses SETNX; state transitions use WATCH/MULTI so concurrent writers
// lose cleanly instead of overwriting each other.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func redisKey(rec *models.IdempotencyRecord) string {
	return redisKeyPrefix + rec.Scope + ":" + rec.UserID.String() + ":" + rec.Key
}

func ttlUntil(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func decodeRecord(raw []byte) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Insert(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	key := redisKey(rec)
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, key, raw, ttlUntil(rec.ExpiresAt, rec.CreatedAt)).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return nil, true, nil
		}
		stored, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		existing, err := decodeRecord(stored)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("idempotency record for %q vanished during insert", rec.Key)
}

// transition applies next to the stored record when allow accepts the current value.
// A missing key is passed to allow as nil.
func (s *RedisStore) transition(ctx context.Context, key string, next *models.IdempotencyRecord, ttl time.Duration,
	allow func(current *models.IdempotencyRecord) bool) (bool, error) {
	raw, err := json.Marshal(next)
	if err != nil {
		return false, err
	}
	applied := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		var current *models.IdempotencyRecord
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if current, err = decodeRecord(stored); err != nil {
				return err
			}
		}
		if !allow(current) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return applied, err
}

func (s *RedisStore) Reclaim(ctx context.Context, rec *models.IdempotencyRecord, cond ReclaimCondition) (bool, error) {
	return s.transition(ctx, redisKey(rec), rec, ttlUntil(rec.ExpiresAt, cond.Now), func(current *models.IdempotencyRecord) bool {
		return current == nil || reclaimable(current, cond)
	})
}

func (s *RedisStore) Finish(ctx context.Context, rec *models.IdempotencyRecord, leaseAt time.Time) error {
	ok, err := s.transition(ctx, redisKey(rec), rec, ttlUntil(rec.ExpiresAt, rec.UpdatedAt), func(current *models.IdempotencyRecord) bool {
		return current != nil && current.Status == models.IdempotencyInProgress && current.UpdatedAt.Equal(leaseAt)
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
