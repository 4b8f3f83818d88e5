package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/availability"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/internal/permissions"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

const maxWindow = 366 * 24 * time.Hour

func checkWindow(from, to time.Time) error {
	if !from.Before(to) {
		return apperror.InvalidRequest("from must be before to")
	}
	if to.Sub(from) > maxWindow {
		return apperror.InvalidRequest("window must not exceed 366 days")
	}
	return nil
}

// GetReservation returns a reservation the user can view.
func (s *Service) GetReservation(ctx context.Context, userID, reservationID uuid.UUID) (*models.Reservation, error) {
	r, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, r.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.View); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReservations returns the resource's reservations overlapping [from, to).
func (s *Service) ListReservations(ctx context.Context, userID, resourceID uuid.UUID, from, to time.Time) ([]models.Reservation, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.View); err != nil {
		return nil, err
	}
	list, err := s.store.ListReservations(ctx, resourceID, from, to)
	if err != nil {
		return nil, s.internal("list reservations", fmt.Errorf("list reservations: %w", err))
	}
	if list == nil {
		list = []models.Reservation{}
	}
	return list, nil
}

func (s *Service) capacityReport(ctx context.Context, res *models.Resource, from, to time.Time) (*Availability, error) {
	remaining, err := availability.New(s.store).Remaining(ctx, res, from, to)
	if err != nil {
		return nil, s.internal("compute availability", fmt.Errorf("remaining capacity: %w", err))
	}
	return &Availability{
		ResourceID: res.ID,
		Name:       res.Name,
		Capacity:   res.Capacity,
		Remaining:  remaining,
		From:       from.UTC(),
		To:         to.UTC(),
	}, nil
}

// Availability reports remaining capacity of a resource the user can view.
func (s *Service) Availability(ctx context.Context, userID, resourceID uuid.UUID, from, to time.Time) (*Availability, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	res, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, res, permissions.View); err != nil {
		return nil, err
	}
	return s.capacityReport(ctx, res, from, to)
}

// PublicAvailability reports remaining capacity behind a public booking token.
func (s *Service) PublicAvailability(ctx context.Context, token string, from, to time.Time) (*Availability, error) {
	res, err := s.publicResource(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	return s.capacityReport(ctx, res, from, to)
}
