package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type booked struct {
	ID    uuid.UUID `json:"id"`
	Units int       `json:"units"`
}

type payload struct {
	ResourceID string `json:"resource_id"`
	Quantity   int    `json:"quantity"`
}

// stores runs fn against every Store implementation that works without external services.
func stores(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		fn(t, NewRedisStore(client))
	})
}

func newGuard(store Store) (*Guard, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGuard(store, Config{Retention: time.Hour, StaleAfter: time.Minute}, nil, nil).WithClock(clock.Now)
	return g, clock
}

func counter(calls *atomic.Int32, result booked) func(context.Context) (booked, error) {
	return func(context.Context) (booked, error) {
		calls.Add(1)
		return result, nil
	}
}

func TestBypassWithoutKey(t *testing.T) {
	g, _ := newGuard(NewMemoryStore())
	var calls atomic.Int32
	d := Descriptor{Scope: "reservation.create", UserID: uuid.New(), Payload: payload{Quantity: 1}}

	for i := 0; i < 2; i++ {
		_, outcome, err := Execute(context.Background(), g, d, counter(&calls, booked{Units: 1}))
		require.NoError(t, err)
		assert.Equal(t, Bypassed, outcome)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestExactlyOnceAndReplay(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, _ := newGuard(store)
		ctx := context.Background()
		var calls atomic.Int32
		want := booked{ID: uuid.New(), Units: 2}
		d := Descriptor{Key: "k-1", Scope: "reservation.create", UserID: uuid.New(), Payload: payload{"r1", 2}}

		got, outcome, err := Execute(ctx, g, d, counter(&calls, want))
		require.NoError(t, err)
		assert.Equal(t, Executed, outcome)
		assert.Equal(t, want, got)

		got, outcome, err = Execute(ctx, g, d, counter(&calls, booked{Units: 99}))
		require.NoError(t, err)
		assert.Equal(t, Replayed, outcome)
		assert.Equal(t, want, got)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestSameKeyDifferentPayloadConflicts(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, _ := newGuard(store)
		ctx := context.Background()
		var calls atomic.Int32
		user := uuid.New()

		_, _, err := Execute(ctx, g, Descriptor{Key: "k", Scope: "s", UserID: user, Payload: payload{"r1", 1}}, counter(&calls, booked{}))
		require.NoError(t, err)

		_, _, err = Execute(ctx, g, Descriptor{Key: "k", Scope: "s", UserID: user, Payload: payload{"r1", 2}}, counter(&calls, booked{}))
		require.Error(t, err)
		assert.Equal(t, apperror.KindIdempotencyConflict, apperror.KindOf(err))
		assert.Contains(t, err.Error(), `"k"`)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestKeysAreScopedPerUserAndScope(t *testing.T) {
	g, _ := newGuard(NewMemoryStore())
	ctx := context.Background()
	var calls atomic.Int32
	p := payload{"r1", 1}

	for _, d := range []Descriptor{
		{Key: "k", Scope: "reservation.create", UserID: uuid.New(), Payload: p},
		{Key: "k", Scope: "reservation.create", UserID: uuid.New(), Payload: p},
		{Key: "k", Scope: "reservation.cancel", UserID: uuid.New(), Payload: p},
	} {
		_, outcome, err := Execute(ctx, g, d, counter(&calls, booked{}))
		require.NoError(t, err)
		assert.Equal(t, Executed, outcome)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestInProgressIsRejectedNotAwaited(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, _ := newGuard(store)
		ctx := context.Background()
		d := Descriptor{Key: "slow", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}

		started, release := make(chan struct{}), make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, _, err := Execute(ctx, g, d, func(context.Context) (booked, error) {
				close(started)
				<-release
				return booked{Units: 1}, nil
			})
			done <- err
		}()
		<-started

		var calls atomic.Int32
		_, _, err := Execute(ctx, g, d, counter(&calls, booked{}))
		require.Error(t, err)
		assert.Equal(t, apperror.KindAlreadyInProgress, apperror.KindOf(err))
		assert.Zero(t, calls.Load())

		close(release)
		require.NoError(t, <-done)
	})
}

func TestFailedRecordIsRetried(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, _ := newGuard(store)
		ctx := context.Background()
		d := Descriptor{Key: "retry", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}

		_, outcome, err := Execute(ctx, g, d, func(context.Context) (booked, error) {
			return booked{}, apperror.New(apperror.KindCapacityExceeded, "only 0 of 1 units available")
		})
		assert.Equal(t, Executed, outcome)
		assert.Equal(t, apperror.KindCapacityExceeded, apperror.KindOf(err))

		var calls atomic.Int32
		got, outcome, err := Execute(ctx, g, d, counter(&calls, booked{Units: 1}))
		require.NoError(t, err)
		assert.Equal(t, Executed, outcome)
		assert.Equal(t, 1, got.Units)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, clock := newGuard(store)
		ctx := context.Background()
		d := Descriptor{Key: "stuck", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}
		fp, err := Fingerprint(d.Payload)
		require.NoError(t, err)

		now := clock.Now()
		_, inserted, err := store.Insert(ctx, &models.IdempotencyRecord{
			Key: d.Key, Scope: d.Scope, UserID: d.UserID, PayloadFingerprint: fp,
			Status: models.IdempotencyInProgress, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
		})
		require.NoError(t, err)
		require.True(t, inserted)

		var calls atomic.Int32
		_, _, err = Execute(ctx, g, d, counter(&calls, booked{}))
		assert.Equal(t, apperror.KindAlreadyInProgress, apperror.KindOf(err))

		clock.Advance(2 * time.Minute)
		_, outcome, err := Execute(ctx, g, d, counter(&calls, booked{Units: 4}))
		require.NoError(t, err)
		assert.Equal(t, Executed, outcome)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestExpiredRecordIsTreatedAsAbsent(t *testing.T) {
	g, clock := newGuard(NewMemoryStore())
	ctx := context.Background()
	user := uuid.New()
	var calls atomic.Int32

	_, _, err := Execute(ctx, g, Descriptor{Key: "old", Scope: "s", UserID: user, Payload: payload{"r", 1}}, counter(&calls, booked{}))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, outcome, err := Execute(ctx, g, Descriptor{Key: "old", Scope: "s", UserID: user, Payload: payload{"r", 5}}, counter(&calls, booked{}))
	require.NoError(t, err)
	assert.Equal(t, Executed, outcome)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCancelledRequestLeavesFailedRecord(t *testing.T) {
	store := NewMemoryStore()
	g, _ := newGuard(store)
	ctx, cancel := context.WithCancel(context.Background())
	d := Descriptor{Key: "cancel", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}

	_, _, err := Execute(ctx, g, d, func(ctx context.Context) (booked, error) {
		cancel()
		<-ctx.Done()
		return booked{}, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	rec, ok := store.Get(d.Key, d.Scope, d.UserID)
	require.True(t, ok)
	assert.Equal(t, models.IdempotencyFailed, rec.Status)
	assert.Equal(t, context.Canceled.Error(), rec.ErrorMessage)
}

func TestPanicMarksFailedAndRepanics(t *testing.T) {
	store := NewMemoryStore()
	g, _ := newGuard(store)
	d := Descriptor{Key: "boom", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _, _ = Execute(context.Background(), g, d, func(context.Context) (booked, error) {
			panic("kaboom")
		})
	})
	rec, ok := store.Get(d.Key, d.Scope, d.UserID)
	require.True(t, ok)
	assert.Equal(t, models.IdempotencyFailed, rec.Status)
	assert.Equal(t, "panic: kaboom", rec.ErrorMessage)
}

func TestConcurrentSameKeyRunsOnce(t *testing.T) {
	stores(t, func(t *testing.T, store Store) {
		g, _ := newGuard(store)
		d := Descriptor{Key: "race", Scope: "s", UserID: uuid.New(), Payload: payload{"r", 1}}
		var calls atomic.Int32
		var executed, replayed, rejected atomic.Int32

		var eg errgroup.Group
		for i := 0; i < 16; i++ {
			eg.Go(func() error {
				_, outcome, err := Execute(context.Background(), g, d, counter(&calls, booked{Units: 1}))
				switch {
				case apperror.KindOf(err) == apperror.KindAlreadyInProgress:
					rejected.Add(1)
				case err != nil:
					return err
				case outcome == Executed:
					executed.Add(1)
				case outcome == Replayed:
					replayed.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(1), executed.Load())
		assert.Equal(t, int32(16), executed.Load()+replayed.Load()+rejected.Load())
	})
}

func TestReapDeletesExpired(t *testing.T) {
	store := NewMemoryStore()
	g, clock := newGuard(store)
	ctx := context.Background()
	var calls atomic.Int32
	for _, key := range []string{"a", "b"} {
		_, _, err := Execute(ctx, g, Descriptor{Key: key, Scope: "s", UserID: uuid.New(), Payload: 1}, counter(&calls, booked{}))
		require.NoError(t, err)
	}

	n, err := g.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Hour)
	n, err = g.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOverlongKeyIsInvalid(t *testing.T) {
	g, _ := newGuard(NewMemoryStore())
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'k'
	}
	_, _, err := Execute(context.Background(), g, Descriptor{Key: string(long), Scope: "s", UserID: uuid.New()},
		func(context.Context) (int, error) { return 0, errors.New("must not run") })
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	c, err := Fingerprint(map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	_, err = Fingerprint(make(chan int))
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore("memory", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	s, err = OpenStore("redis", nil, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)

	_, err = OpenStore("postgres", nil, nil)
	assert.Error(t, err)
	_, err = OpenStore("dynamo", nil, nil)
	assert.Error(t, err)
}
