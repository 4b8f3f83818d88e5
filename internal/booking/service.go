// Package booking admits, changes and cancels reservations under the resource's capacity.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/availability"
	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/idempotency"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/internal/notify"
	"github.com/Csepi/cal3-sub003/internal/permissions"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/database"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
)

const (
	ScopeCreate       = "reservation.create"
	ScopeUpdate       = "reservation.update"
	ScopeCancel       = "reservation.cancel"
	ScopePublicCreate = "reservation.public.create"

	defaultTxRetries    = 3
	defaultRetryBackoff = 20 * time.Millisecond
)

// PublicActor is the identity public bookings act as. It holds no grants.
var PublicActor = uuid.Nil

var publicClientNamespace = uuid.MustParse("5b0c7d1e-3f7a-4c55-9a1e-2d6f8e4b7c90")

// publicClient keys public idempotency records per customer email.
func publicClient(email string) uuid.UUID {
	return uuid.NewSHA1(publicClientNamespace, []byte(strings.ToLower(strings.TrimSpace(email))))
}

// quantityOr1 defaults an omitted quantity. An explicit value, zero included, is kept for validation.
func quantityOr1(q *int) int {
	if q == nil {
		return 1
	}
	return *q
}

// Config tunes transaction retries.
type Config struct {
	TxRetries    int
	RetryBackoff time.Duration
}

// Service is the booking orchestrator.
type Service struct {
	directory directory.Store
	resolver  *permissions.Resolver
	store     Store
	guard     *idempotency.Guard
	logger    *zap.Logger
	metrics   *metrics.Metrics
	retries   int
	backoff   time.Duration
	now       func() time.Time
}

// NewService wires the orchestrator. Zero config values use 3 retries and a 20ms backoff step.
func NewService(dir directory.Store, resolver *permissions.Resolver, store Store, guard *idempotency.Guard, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TxRetries <= 0 {
		cfg.TxRetries = defaultTxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Service{
		directory: dir,
		resolver:  resolver,
		store:     store,
		guard:     guard,
		logger:    logger,
		metrics:   m,
		retries:   cfg.TxRetries,
		backoff:   cfg.RetryBackoff,
		now:       time.Now,
	}
}

// CreateRequest is the body of POST /resources/:id/reservations.
type CreateRequest struct {
	StartTime     time.Time                `json:"start_time" binding:"required"`
	EndTime       time.Time                `json:"end_time" binding:"required"`
	Quantity      *int                     `json:"quantity,omitempty"`
	Status        models.ReservationStatus `json:"status,omitempty"`
	CustomerName  string                   `json:"customer_name,omitempty"`
	CustomerEmail string                   `json:"customer_email,omitempty"`
	CustomerPhone string                   `json:"customer_phone,omitempty"`
	Notes         string                   `json:"notes,omitempty"`
}

// UpdateRequest is the body of PATCH /reservations/:id. Nil fields are left unchanged.
type UpdateRequest struct {
	StartTime     *time.Time                `json:"start_time,omitempty"`
	EndTime       *time.Time                `json:"end_time,omitempty"`
	Quantity      *int                      `json:"quantity,omitempty"`
	Status        *models.ReservationStatus `json:"status,omitempty"`
	CustomerName  *string                   `json:"customer_name,omitempty"`
	CustomerEmail *string                   `json:"customer_email,omitempty"`
	CustomerPhone *string                   `json:"customer_phone,omitempty"`
	Notes         *string                   `json:"notes,omitempty"`
}

// PublicRequest is the body of POST /public/booking/:token/reservations.
type PublicRequest struct {
	StartTime     time.Time `json:"start_time" binding:"required"`
	EndTime       time.Time `json:"end_time" binding:"required"`
	Quantity      *int      `json:"quantity,omitempty"`
	CustomerName  string    `json:"customer_name" binding:"required"`
	CustomerEmail string    `json:"customer_email" binding:"required,email"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Result is the outcome of a write. Events are empty for replays.
type Result struct {
	Reservation *models.Reservation  `json:"reservation"`
	Promoted    []models.Reservation `json:"promoted,omitempty"`
	Events      []notify.Event       `json:"-"`
	Replayed    bool                 `json:"-"`
}

// Availability reports remaining capacity over a window.
type Availability struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Name       string    `json:"name"`
	Capacity   int       `json:"capacity"`
	Remaining  int       `json:"remaining"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// outcome is what the idempotency guard stores and replays.
type outcome struct {
	Reservation *models.Reservation  `json:"reservation"`
	Promoted    []models.Reservation `json:"promoted,omitempty"`
}

func (s *Service) loadResource(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	res, err := s.directory.GetResource(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, apperror.NotFound("resource not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load resource: %w", err))
	}
	return res, nil
}

func (s *Service) loadReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperror.NotFound("reservation not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load reservation: %w", err))
	}
	return r, nil
}

// authorize requires min on the resource's type.
func (s *Service) authorize(ctx context.Context, userID uuid.UUID, res *models.Resource, min permissions.AccessLevel) error {
	level, err := s.resolver.Resolve(ctx, userID, permissions.ResourceType(res.ResourceTypeID))
	if err != nil {
		return err
	}
	if !level.AtLeast(min) {
		return apperror.Forbidden("insufficient access").WithDetail("required", min.String())
	}
	return nil
}

// inTx runs fn under the resource lock, retrying transient store failures.
func (s *Service) inTx(ctx context.Context, resourceID uuid.UUID, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.store.WithResourceLock(ctx, resourceID, fn)
		if err == nil || !database.IsRetryable(err) {
			if errors.Is(err, ErrNotFound) {
				return apperror.NotFound("resource not found")
			}
			return err
		}
		if attempt >= s.retries {
			s.logger.Error("reservation transaction retries exhausted",
				zap.String("resource_id", resourceID.String()),
				zap.Error(err))
			return apperror.Internal(fmt.Errorf("reservation transaction after %d retries: %w", attempt, err))
		}
		s.metrics.TxRetry()
		s.logger.Warn("retrying reservation transaction",
			zap.String("resource_id", resourceID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
}

// internal classifies err for the caller, logging anything unclassified.
func (s *Service) internal(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error(op, zap.Error(err))
	return apperror.Internal(err)
}

func (s *Service) admission(op string, err error) {
	if err == nil {
		s.metrics.Admission(op, "admitted")
		return
	}
	if rej, ok := availability.AsRejection(err); ok {
		s.metrics.Admission(op, string(rej.Reason))
		return
	}
	s.metrics.Admission(op, string(apperror.KindOf(err)))
}

func guarded(ctx context.Context, s *Service, d idempotency.Descriptor, op func(ctx context.Context) (*outcome, error)) (*outcome, bool, error) {
	if s.guard == nil {
		out, err := op(ctx)
		return out, false, err
	}
	out, oc, err := idempotency.Execute(ctx, s.guard, d, op)
	return out, oc == idempotency.Replayed, err
}

func (s *Service) result(out *outcome, replayed bool, ev notify.EventType, actor uuid.UUID, res *models.Resource) *Result {
	r := &Result{Reservation: out.Reservation, Promoted: out.Promoted, Replayed: replayed}
	if replayed {
		return r
	}
	at := s.now().UTC()
	r.Events = append(r.Events, notify.NewEvent(ev, actor, out.Reservation,
		notify.Recipients(actor, out.Reservation.CreatedBy, res.ManagedBy), at))
	for i := range out.Promoted {
		p := &out.Promoted[i]
		r.Events = append(r.Events, notify.NewEvent(notify.EventReservationPromoted, actor, p,
			notify.Recipients(actor, p.CreatedBy, res.ManagedBy), at))
	}
	return r
}

func createStatus(st models.ReservationStatus) (models.ReservationStatus, error) {
	switch st {
	case "":
		return models.ReservationPending, nil
	case models.ReservationPending, models.ReservationConfirmed, models.ReservationWaitlist:
		return st, nil
	}
	return "", apperror.InvalidRequest("status must be PENDING, CONFIRMED or WAITLIST")
}

// admit inserts r under the lock after checking it against the locked resource.
func admit(ctx context.Context, tx Tx, r *models.Reservation) error {
	res := tx.Resource()
	if r.Status.HoldsCapacity() {
		if err := availability.New(tx).AssertAvailable(ctx, res, r.StartTime, r.EndTime, r.Quantity, nil); err != nil {
			return err
		}
	} else if err := availability.Validate(res, r.StartTime, r.EndTime, r.Quantity); err != nil {
		return err
	}
	return tx.InsertReservation(ctx, r)
}

// CreateReservation books units of a resource for userID.
func (s *Service) CreateReservation(ctx context.Context, userID, resourceID uuid.UUID, req CreateRequest, idempotencyKey string) (*Result, error) {
	res, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.Edit); err != nil {
		return nil, err
	}
	status, err := createStatus(req.Status)
	if err != nil {
		return nil, err
	}
	quantity := quantityOr1(req.Quantity)
	req.Quantity = &quantity
	d := idempotency.Descriptor{
		Key:     idempotencyKey,
		Scope:   ScopeCreate,
		UserID:  userID,
		Payload: struct {
			ResourceID uuid.UUID     `json:"resource_id"`
			Request    CreateRequest `json:"request"`
		}{resourceID, req},
	}
	creator := userID
	out, replayed, err := guarded(ctx, s, d, func(ctx context.Context) (*outcome, error) {
		r := &models.Reservation{
			ResourceID:    resourceID,
			StartTime:     req.StartTime.UTC(),
			EndTime:       req.EndTime.UTC(),
			Quantity:      quantity,
			Status:        status,
			CreatedBy:     &creator,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
			Notes:         req.Notes,
		}
		err := s.inTx(ctx, resourceID, func(tx Tx) error { return admit(ctx, tx, r) })
		s.admission(ScopeCreate, err)
		if err != nil {
			return nil, s.internal("create reservation", err)
		}
		return &outcome{Reservation: r}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reservation created",
		zap.String("reservation_id", out.Reservation.ID.String()),
		zap.String("resource_id", resourceID.String()),
		zap.Bool("replayed", replayed))
	return s.result(out, replayed, notify.EventReservationCreated, userID, res), nil
}

func applyUpdate(r *models.Reservation, req UpdateRequest) error {
	if req.Status != nil {
		switch *req.Status {
		case models.ReservationPending, models.ReservationConfirmed, models.ReservationCompleted, models.ReservationWaitlist:
			r.Status = *req.Status
		case models.ReservationCancelled:
			return apperror.InvalidRequest("use the cancel operation to cancel a reservation")
		default:
			return apperror.InvalidRequest("unknown status")
		}
	}
	if req.StartTime != nil {
		r.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		r.EndTime = req.EndTime.UTC()
	}
	if req.Quantity != nil {
		r.Quantity = *req.Quantity
	}
	if req.CustomerName != nil {
		r.CustomerName = *req.CustomerName
	}
	if req.CustomerEmail != nil {
		r.CustomerEmail = *req.CustomerEmail
	}
	if req.CustomerPhone != nil {
		r.CustomerPhone = *req.CustomerPhone
	}
	if req.Notes != nil {
		r.Notes = *req.Notes
	}
	return nil
}

// promote moves waitlisted reservations overlapping the freed window to PENDING, oldest first, while they fit.
func (s *Service) promote(ctx context.Context, tx Tx, freed *models.Reservation) ([]models.Reservation, error) {
	res := tx.Resource()
	if !res.IsActive {
		return nil, nil
	}
	waiting, err := tx.ListWaitlisted(ctx, freed.ResourceID, freed.StartTime, freed.EndTime)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	engine := availability.New(tx)
	var promoted []models.Reservation
	for i := range waiting {
		w := waiting[i]
		if w.ID == freed.ID || !w.EndTime.After(s.now()) {
			continue
		}
		err := engine.AssertAvailable(ctx, res, w.StartTime, w.EndTime, w.Quantity, &w.ID)
		if err != nil {
			if _, ok := availability.AsRejection(err); ok {
				continue
			}
			return nil, err
		}
		w.Status = models.ReservationPending
		if err := tx.UpdateReservation(ctx, &w); err != nil {
			return nil, fmt.Errorf("promote reservation: %w", err)
		}
		promoted = append(promoted, w)
	}
	return promoted, nil
}

// UpdateReservation changes a reservation, re-admitting it when the result holds capacity.
func (s *Service) UpdateReservation(ctx context.Context, userID, reservationID uuid.UUID, req UpdateRequest, idempotencyKey string) (*Result, error) {
	current, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.Edit); err != nil {
		return nil, err
	}
	d := idempotency.Descriptor{
		Key:    idempotencyKey,
		Scope:  ScopeUpdate,
		UserID: userID,
		Payload: struct {
			ReservationID uuid.UUID     `json:"reservation_id"`
			Request       UpdateRequest `json:"request"`
		}{reservationID, req},
	}
	out, replayed, err := guarded(ctx, s, d, func(ctx context.Context) (*outcome, error) {
		var out outcome
		err := s.inTx(ctx, current.ResourceID, func(tx Tx) error {
			out = outcome{}
			r, err := tx.GetReservation(ctx, reservationID)
			if errors.Is(err, ErrNotFound) {
				return apperror.NotFound("reservation not found")
			}
			if err != nil {
				return err
			}
			if r.Status == models.ReservationCancelled {
				return apperror.InvalidRequest("reservation is cancelled")
			}
			before := *r
			if err := applyUpdate(r, req); err != nil {
				return err
			}
			if r.Status.HoldsCapacity() {
				err = availability.New(tx).AssertAvailable(ctx, tx.Resource(), r.StartTime, r.EndTime, r.Quantity, &r.ID)
			} else {
				err = availability.Validate(tx.Resource(), r.StartTime, r.EndTime, r.Quantity)
			}
			if err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			out.Reservation = r
			if before.Status.HoldsCapacity() && frees(before, *r) {
				out.Promoted, err = s.promote(ctx, tx, &before)
			}
			return err
		})
		s.admission(ScopeUpdate, err)
		if err != nil {
			return nil, s.internal("update reservation", err)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reservation updated",
		zap.String("reservation_id", reservationID.String()),
		zap.Bool("replayed", replayed))
	return s.result(out, replayed, notify.EventReservationUpdated, userID, res), nil
}

// frees reports whether moving from before to after can release capacity somewhere in before's window.
func frees(before, after models.Reservation) bool {
	if !after.Status.HoldsCapacity() {
		return true
	}
	return after.Quantity < before.Quantity ||
		after.StartTime.After(before.StartTime) ||
		after.EndTime.Before(before.EndTime)
}

// CancelReservation cancels a reservation and promotes waitlisted ones that now fit.
func (s *Service) CancelReservation(ctx context.Context, userID, reservationID uuid.UUID, idempotencyKey string) (*Result, error) {
	current, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.Edit); err != nil {
		return nil, err
	}
	d := idempotency.Descriptor{
		Key:     idempotencyKey,
		Scope:   ScopeCancel,
		UserID:  userID,
		Payload: struct {
			ReservationID uuid.UUID `json:"reservation_id"`
		}{reservationID},
	}
	out, replayed, err := guarded(ctx, s, d, func(ctx context.Context) (*outcome, error) {
		var out outcome
		err := s.inTx(ctx, current.ResourceID, func(tx Tx) error {
			out = outcome{}
			r, err := tx.GetReservation(ctx, reservationID)
			if errors.Is(err, ErrNotFound) {
				return apperror.NotFound("reservation not found")
			}
			if err != nil {
				return err
			}
			if r.Status == models.ReservationCancelled {
				return apperror.InvalidRequest("reservation is already cancelled")
			}
			held := r.Status.HoldsCapacity()
			r.Status = models.ReservationCancelled
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			out.Reservation = r
			if held {
				out.Promoted, err = s.promote(ctx, tx, r)
			}
			return err
		})
		if err != nil {
			return nil, s.internal("cancel reservation", err)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", reservationID.String()),
		zap.Int("promoted", len(out.Promoted)),
		zap.Bool("replayed", replayed))
	return s.result(out, replayed, notify.EventReservationCancelled, userID, res), nil
}

// publicResource resolves a booking token. Unknown, inactive and disabled resources are all NotFound.
func (s *Service) publicResource(ctx context.Context, token string) (*models.Resource, error) {
	if token == "" {
		return nil, apperror.NotFound("booking page not found")
	}
	res, err := s.directory.GetResourceByToken(ctx, token)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, apperror.NotFound("booking page not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load resource by token: %w", err))
	}
	if !res.IsActive || !res.PublicBookingEnabled {
		return nil, apperror.NotFound("booking page not found")
	}
	return res, nil
}

// CreatePublicReservation books through a public booking token. Public bookings are always CONFIRMED.
func (s *Service) CreatePublicReservation(ctx context.Context, token string, req PublicRequest, idempotencyKey string) (*Result, error) {
	res, err := s.publicResource(ctx, token)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		return nil, apperror.InvalidRequest("customer name and email are required")
	}
	quantity := quantityOr1(req.Quantity)
	req.Quantity = &quantity
	d := idempotency.Descriptor{
		Key:     idempotencyKey,
		Scope:   ScopePublicCreate + ":" + res.ID.String(),
		UserID:  publicClient(req.CustomerEmail),
		Payload: req,
	}
	out, replayed, err := guarded(ctx, s, d, func(ctx context.Context) (*outcome, error) {
		r := &models.Reservation{
			ResourceID:    res.ID,
			StartTime:     req.StartTime.UTC(),
			EndTime:       req.EndTime.UTC(),
			Quantity:      quantity,
			Status:        models.ReservationConfirmed,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
			Notes:         req.Notes,
		}
		err := s.inTx(ctx, res.ID, func(tx Tx) error {
			if locked := tx.Resource(); !locked.IsActive || !locked.PublicBookingEnabled {
				return apperror.NotFound("booking page not found")
			}
			return admit(ctx, tx, r)
		})
		s.admission(ScopePublicCreate, err)
		if err != nil {
			return nil, s.internal("create public reservation", err)
		}
		return &outcome{Reservation: r}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("public reservation created",
		zap.String("reservation_id", out.Reservation.ID.String()),
		zap.String("resource_id", res.ID.String()),
		zap.Bool("replayed", replayed))
	return s.result(out, replayed, notify.EventReservationCreated, PublicActor, res), nil
}
