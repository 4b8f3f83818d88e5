// Package availability decides whether a resource can admit a reservation.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

// Reader lists reservations of a resource whose window overlaps [start, end).
// Implementations may pre-filter by status; the engine filters again.
type Reader interface {
	ListOverlapping(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error)
}

// Engine evaluates capacity against the Reader it is bound to. It holds no state:
// callers that need the answer to stay true must serialize admissions themselves.
type Engine struct {
	reader Reader
}

// New binds an engine to reader.
func New(reader Reader) *Engine {
	return &Engine{reader: reader}
}

// Overlaps reports whether [s1, e1) and [s2, e2) intersect. Back-to-back windows do not.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}

// ReservedQuantity sums the quantity of capacity-holding reservations overlapping the window,
// skipping excludeID when set.
func (e *Engine) ReservedQuantity(ctx context.Context, resourceID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error) {
	list, err := e.reader.ListOverlapping(ctx, resourceID, start, end)
	if err != nil {
		return 0, fmt.Errorf("list reservations: %w", err)
	}
	total := 0
	for _, r := range list {
		if r.ResourceID != resourceID || !r.Status.HoldsCapacity() {
			continue
		}
		if excludeID != nil && r.ID == *excludeID {
			continue
		}
		if Overlaps(r.StartTime, r.EndTime, start, end) {
			total += r.Quantity
		}
	}
	return total, nil
}

// AssertAvailable returns nil when quantity units of resource fit into [start, end),
// otherwise a *Rejection for the first failing check.
func (e *Engine) AssertAvailable(ctx context.Context, resource *models.Resource, start, end time.Time, quantity int, excludeID *uuid.UUID) error {
	if rej := validate(resource, start, end, quantity); rej != nil {
		return rej
	}
	reserved, err := e.ReservedQuantity(ctx, resource.ID, start, end, excludeID)
	if err != nil {
		return err
	}
	if reserved+quantity > resource.Capacity {
		remaining := resource.Capacity - reserved
		if remaining < 0 {
			remaining = 0
		}
		return capacityExceeded(remaining, resource.Capacity)
	}
	return nil
}

// Remaining reports the units still free over the whole window, never below zero.
func (e *Engine) Remaining(ctx context.Context, resource *models.Resource, start, end time.Time) (int, error) {
	if resource == nil {
		return 0, reject(ReasonResourceNotFound, apperror.NotFound("resource not found"))
	}
	if !start.Before(end) {
		return 0, reject(ReasonInvalidWindow, apperror.InvalidRequest("start time must be before end time"))
	}
	reserved, err := e.ReservedQuantity(ctx, resource.ID, start, end, nil)
	if err != nil {
		return 0, err
	}
	if left := resource.Capacity - reserved; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Validate runs the request checks of AssertAvailable without consulting existing reservations.
// It is used for entries that do not hold capacity, such as waitlist requests.
func Validate(resource *models.Resource, start, end time.Time, quantity int) error {
	if rej := validate(resource, start, end, quantity); rej != nil {
		return rej
	}
	return nil
}

func validate(resource *models.Resource, start, end time.Time, quantity int) *Rejection {
	switch {
	case resource == nil:
		return reject(ReasonResourceNotFound, apperror.NotFound("resource not found"))
	case !resource.IsActive:
		return reject(ReasonResourceInactive, apperror.InvalidRequest("resource is not active"))
	case quantity < 1:
		return reject(ReasonInvalidQuantity, apperror.InvalidRequest("quantity must be at least 1"))
	case resource.Capacity < 1:
		return reject(ReasonMisconfigured, apperror.InvalidRequest("resource capacity is not configured"))
	case quantity > resource.Capacity:
		return reject(ReasonExceedsCapacity, apperror.InvalidRequest(
			fmt.Sprintf("quantity %d exceeds resource capacity %d", quantity, resource.Capacity)).
			WithDetail("capacity", resource.Capacity))
	case !start.Before(end):
		return reject(ReasonInvalidWindow, apperror.InvalidRequest("start time must be before end time"))
	}
	return nil
}
