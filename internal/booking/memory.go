package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/availability"
	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
)

// ResourceSource loads resource rows for the memory store.
type ResourceSource interface {
	GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error)
}

// MemoryStore keeps reservations in process. A mutex per resource stands in for the row lock.
type MemoryStore struct {
	resources ResourceSource

	mu           sync.RWMutex
	reservations map[uuid.UUID]models.Reservation
	seq          map[uuid.UUID]int64
	next         int64

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex

	failMu   sync.Mutex
	failures []error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store reading resources from src.
func NewMemoryStore(src ResourceSource) *MemoryStore {
	return &MemoryStore{
		resources:    src,
		reservations: make(map[uuid.UUID]models.Reservation),
		seq:          make(map[uuid.UUID]int64),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// FailNext makes the next n calls to WithResourceLock return err without running fn.
func (s *MemoryStore) FailNext(err error, n int) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, err)
	}
}

func (s *MemoryStore) injected() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *MemoryStore) lockFor(resourceID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[resourceID] = l
	}
	return l
}

func (s *MemoryStore) WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func(tx Tx) error) error {
	if err := s.injected(); err != nil {
		return err
	}
	l := s.lockFor(resourceID)
	l.Lock()
	defer l.Unlock()

	res, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load resource: %w", err)
	}
	tx := &memoryTx{store: s, resource: res, staged: make(map[uuid.UUID]models.Reservation)}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.order {
		if _, ok := s.seq[id]; !ok {
			s.next++
			s.seq[id] = s.next
		}
		s.reservations[id] = tx.staged[id]
	}
	return nil
}

func (s *MemoryStore) GetReservation(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListOverlapping(_ context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(nil, resourceID, start, end, nil), nil
}

func (s *MemoryStore) ListReservations(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	out, _ := s.ListOverlapping(ctx, resourceID, start, end)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// filter returns committed rows overlaid with staged ones, in insertion order. Caller holds s.mu.
func (s *MemoryStore) filter(staged map[uuid.UUID]models.Reservation, resourceID uuid.UUID, start, end time.Time, keep func(models.Reservation) bool) []models.Reservation {
	merged := make(map[uuid.UUID]models.Reservation, len(s.reservations)+len(staged))
	for id, r := range s.reservations {
		merged[id] = r
	}
	for id, r := range staged {
		merged[id] = r
	}
	var out []models.Reservation
	for _, r := range merged {
		if r.ResourceID != resourceID || !availability.Overlaps(r.StartTime, r.EndTime, start, end) {
			continue
		}
		if keep != nil && !keep(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		si, oki := s.seq[out[i].ID]
		sj, okj := s.seq[out[j].ID]
		if oki != okj {
			return oki
		}
		if si != sj {
			return si < sj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memoryTx struct {
	store    *MemoryStore
	resource *models.Resource
	staged   map[uuid.UUID]models.Reservation
	order    []uuid.UUID
}

func (t *memoryTx) Resource() *models.Resource { return t.resource }

func (t *memoryTx) stage(r models.Reservation) {
	if _, ok := t.staged[r.ID]; !ok {
		t.order = append(t.order, r.ID)
	}
	t.staged[r.ID] = r
}

func (t *memoryTx) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	if r, ok := t.staged[id]; ok {
		return &r, nil
	}
	return t.store.GetReservation(ctx, id)
}

func (t *memoryTx) ListOverlapping(_ context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.filter(t.staged, resourceID, start, end, nil), nil
}

func (t *memoryTx) ListWaitlisted(_ context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.filter(t.staged, resourceID, start, end, func(r models.Reservation) bool {
		return r.Status == models.ReservationWaitlist
	}), nil
}

func (t *memoryTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	t.stage(*r)
	return nil
}

func (t *memoryTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	if _, err := t.GetReservation(ctx, r.ID); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	t.stage(*r)
	return nil
}
