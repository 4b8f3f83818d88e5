package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/models"
)

type identity struct {
	key    string
	scope  string
	userID uuid.UUID
}

func identityOf(rec *models.IdempotencyRecord) identity {
	return identity{key: rec.Key, scope: rec.Scope, userID: rec.UserID}
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[identity]models.IdempotencyRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[identity]models.IdempotencyRecord)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := identityOf(rec)
	if existing, ok := s.records[id]; ok {
		return &existing, false, nil
	}
	s.records[id] = *rec
	return nil, true, nil
}

func (s *MemoryStore) Reclaim(_ context.Context, rec *models.IdempotencyRecord, cond ReclaimCondition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := identityOf(rec)
	existing, ok := s.records[id]
	if ok && !reclaimable(&existing, cond) {
		return false, nil
	}
	s.records[id] = *rec
	return true, nil
}

func (s *MemoryStore) Finish(_ context.Context, rec *models.IdempotencyRecord, leaseAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := identityOf(rec)
	existing, ok := s.records[id]
	if !ok || existing.Status != models.IdempotencyInProgress || !existing.UpdatedAt.Equal(leaseAt) {
		return ErrLeaseLost
	}
	s.records[id] = *rec
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored record, for inspection.
func (s *MemoryStore) Get(key, scope string, userID uuid.UUID) (models.IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity{key: key, scope: scope, userID: userID}]
	return rec, ok
}
