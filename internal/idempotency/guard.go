// Package idempotency makes retried write requests execute at most once.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
)

const (
	maxKeyLength     = 255
	finalizeTimeout  = 5 * time.Second
	defaultRetention = 24 * time.Hour
	defaultStale     = 2 * time.Minute
)

// Outcome says how Execute produced its result.
type Outcome int

const (
	// Bypassed: no key was supplied and the operation ran unguarded.
	Bypassed Outcome = iota
	// Executed: the operation ran under a fresh or reclaimed record.
	Executed
	// Replayed: a completed record was found and its stored result returned.
	Replayed
)

func (o Outcome) String() string {
	switch o {
	case Bypassed:
		return "bypassed"
	case Executed:
		return "executed"
	case Replayed:
		return "replayed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Descriptor identifies one logical request.
type Descriptor struct {
	Key     string
	Scope   string
	UserID  uuid.UUID
	Payload any
}

// Config tunes record lifetimes.
type Config struct {
	// Retention is how long records are kept and replayable.
	Retention time.Duration
	// StaleAfter is how long an IN_PROGRESS record blocks retries before it may be reclaimed.
	StaleAfter time.Duration
}

// Guard runs operations under idempotency records.
type Guard struct {
	store      Store
	retention  time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewGuard creates a guard. Zero config values fall back to 24h retention and a 2m stale lease.
func NewGuard(store Store, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStale
	}
	return &Guard{
		store:      store,
		retention:  cfg.Retention,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
		logger:     logger,
		metrics:    m,
	}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// clock returns the current time at storage precision so leases compare equal after a round trip.
func (g *Guard) clock() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

// Execute runs op at most once per (Key, Scope, UserID). A completed record with the same
// payload replays its stored result without calling op; a different payload is a conflict;
// a record still in progress is rejected rather than waited on. Failed, expired and stale
// records are reclaimed and op runs again.
func Execute[T any](ctx context.Context, g *Guard, d Descriptor, op func(ctx context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	if d.Key == "" {
		g.metrics.Idempotency(d.Scope, Bypassed.String())
		v, err := op(ctx)
		return v, Bypassed, err
	}
	if len(d.Key) > maxKeyLength {
		return zero, Bypassed, apperror.InvalidRequest(fmt.Sprintf("idempotency key longer than %d characters", maxKeyLength))
	}

	fp, err := Fingerprint(d.Payload)
	if err != nil {
		return zero, Bypassed, apperror.Wrap(apperror.KindInvalidRequest, "payload cannot be fingerprinted", err)
	}

	now := g.clock()
	rec := &models.IdempotencyRecord{
		Key:                d.Key,
		Scope:              d.Scope,
		UserID:             d.UserID,
		PayloadFingerprint: fp,
		Status:             models.IdempotencyInProgress,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(g.retention),
	}

	existing, inserted, err := g.store.Insert(ctx, rec)
	if err != nil {
		return zero, Bypassed, fmt.Errorf("insert idempotency record: %w", err)
	}
	if !inserted {
		cond := ReclaimCondition{Now: now, StaleBefore: now.Add(-g.staleAfter), Fingerprint: fp}
		if !reclaimable(existing, cond) {
			return settle[T](g, d, existing, fp)
		}
		ok, err := g.store.Reclaim(ctx, rec, cond)
		if err != nil {
			return zero, Bypassed, fmt.Errorf("reclaim idempotency record: %w", err)
		}
		if !ok {
			g.metrics.Idempotency(d.Scope, "in_progress")
			return zero, Bypassed, alreadyInProgress(d.Key)
		}
		g.logger.Info("idempotency record reclaimed",
			zap.String("scope", d.Scope),
			zap.String("previous_status", string(existing.Status)))
	}

	return run(ctx, g, rec, op)
}

// settle answers a request whose record exists and may not be reclaimed.
func settle[T any](g *Guard, d Descriptor, existing *models.IdempotencyRecord, fp string) (T, Outcome, error) {
	var zero T
	if existing.PayloadFingerprint != fp {
		g.metrics.Idempotency(d.Scope, "conflict")
		return zero, Bypassed, apperror.New(apperror.KindIdempotencyConflict,
			fmt.Sprintf("idempotency key %q was already used with a different payload", d.Key)).
			WithDetail("idempotency_key", d.Key)
	}
	if existing.Status == models.IdempotencyCompleted {
		var out T
		if err := json.Unmarshal(existing.StoredResult, &out); err != nil {
			return zero, Bypassed, fmt.Errorf("decode stored result: %w", err)
		}
		g.metrics.Idempotency(d.Scope, Replayed.String())
		return out, Replayed, nil
	}
	g.metrics.Idempotency(d.Scope, "in_progress")
	return zero, Bypassed, alreadyInProgress(d.Key)
}

func alreadyInProgress(key string) error {
	return apperror.New(apperror.KindAlreadyInProgress,
		fmt.Sprintf("a request with idempotency key %q is already in progress", key)).
		WithDetail("idempotency_key", key)
}

func run[T any](ctx context.Context, g *Guard, rec *models.IdempotencyRecord, op func(ctx context.Context) (T, error)) (v T, outcome Outcome, err error) {
	leaseAt := rec.UpdatedAt
	defer func() {
		if p := recover(); p != nil {
			g.finish(ctx, rec, leaseAt, models.IdempotencyFailed, nil, fmt.Sprintf("panic: %v", p))
			panic(p)
		}
	}()

	v, err = op(ctx)
	if err != nil {
		g.finish(ctx, rec, leaseAt, models.IdempotencyFailed, nil, err.Error())
		g.metrics.Idempotency(rec.Scope, "failed")
		return v, Executed, err
	}

	data, merr := json.Marshal(v)
	if merr != nil {
		g.finish(ctx, rec, leaseAt, models.IdempotencyFailed, nil, merr.Error())
		return v, Executed, apperror.Internal(fmt.Errorf("encode result: %w", merr))
	}
	g.finish(ctx, rec, leaseAt, models.IdempotencyCompleted, data, "")
	g.metrics.Idempotency(rec.Scope, Executed.String())
	return v, Executed, nil
}

// finish records the terminal state on a context that survives caller cancellation,
// so an aborted request leaves a FAILED record instead of a stuck lease.
func (g *Guard) finish(ctx context.Context, rec *models.IdempotencyRecord, leaseAt time.Time, status models.IdempotencyStatus, result json.RawMessage, msg string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	done := *rec
	done.Status = status
	done.StoredResult = result
	done.ErrorMessage = msg
	done.UpdatedAt = g.clock()
	if err := g.store.Finish(fctx, &done, leaseAt); err != nil {
		g.logger.Warn("finalize idempotency record",
			zap.String("scope", rec.Scope),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Reap deletes expired records and returns how many were removed.
func (g *Guard) Reap(ctx context.Context) (int64, error) {
	n, err := g.store.DeleteExpired(ctx, g.clock())
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	g.metrics.Reaped(n)
	return n, nil
}
