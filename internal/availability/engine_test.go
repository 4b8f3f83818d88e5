package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

type sliceReader []models.Reservation

func (s sliceReader) ListOverlapping(_ context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, r := range s {
		if r.ResourceID == resourceID && Overlaps(r.StartTime, r.EndTime, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func room(capacity int) *models.Resource {
	return &models.Resource{ID: uuid.New(), Name: "Room", Capacity: capacity, IsActive: true}
}

func booking(res *models.Resource, from, to, qty int, status models.ReservationStatus) models.Reservation {
	return models.Reservation{ID: uuid.New(), ResourceID: res.ID, StartTime: at(from), EndTime: at(to), Quantity: qty, Status: status}
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	assert.True(t, Overlaps(at(0), at(2), at(1), at(3)))
	assert.True(t, Overlaps(at(0), at(4), at(1), at(2)))
	assert.False(t, Overlaps(at(0), at(1), at(1), at(2)))
	assert.False(t, Overlaps(at(1), at(2), at(0), at(1)))
}

func TestCapacityThreeScenario(t *testing.T) {
	ctx := context.Background()
	res := room(3)
	engine := New(sliceReader{booking(res, 0, 2, 2, models.ReservationConfirmed)})

	err := engine.AssertAvailable(ctx, res, at(1), at(3), 2, nil)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonCapacityExceeded, rej.Reason)
	assert.Equal(t, 1, rej.Remaining)
	assert.Equal(t, 3, rej.Capacity)
	assert.Equal(t, "only 1 of 3 units available", err.Error())
	assert.Equal(t, apperror.KindCapacityExceeded, apperror.KindOf(err))

	assert.NoError(t, engine.AssertAvailable(ctx, res, at(1), at(3), 1, nil))
	assert.NoError(t, engine.AssertAvailable(ctx, res, at(2), at(4), 3, nil), "back-to-back window")
}

func TestBackToBackNeverConflicts(t *testing.T) {
	ctx := context.Background()
	for capacity := 1; capacity <= 5; capacity++ {
		res := room(capacity)
		engine := New(sliceReader{booking(res, 0, 1, capacity, models.ReservationConfirmed)})
		assert.NoError(t, engine.AssertAvailable(ctx, res, at(1), at(2), capacity, nil), "capacity %d", capacity)
		assert.NoError(t, engine.AssertAvailable(ctx, res, at(-1), at(0), capacity, nil), "capacity %d", capacity)
	}
}

func TestOnlyPendingAndConfirmedHoldCapacity(t *testing.T) {
	ctx := context.Background()
	res := room(2)
	other := room(2)
	engine := New(sliceReader{
		booking(res, 0, 2, 1, models.ReservationPending),
		booking(res, 0, 2, 2, models.ReservationWaitlist),
		booking(res, 0, 2, 2, models.ReservationCancelled),
		booking(res, 0, 2, 2, models.ReservationCompleted),
		booking(other, 0, 2, 2, models.ReservationConfirmed),
	})

	reserved, err := engine.ReservedQuantity(ctx, res.ID, at(0), at(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reserved)

	remaining, err := engine.Remaining(ctx, res, at(0), at(2))
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestExcludeOwnReservation(t *testing.T) {
	ctx := context.Background()
	res := room(2)
	own := booking(res, 0, 2, 2, models.ReservationConfirmed)
	engine := New(sliceReader{own})

	assert.Error(t, engine.AssertAvailable(ctx, res, at(0), at(3), 2, nil))
	assert.NoError(t, engine.AssertAvailable(ctx, res, at(0), at(3), 2, &own.ID))
}

func TestValidationOrder(t *testing.T) {
	ctx := context.Background()
	engine := New(sliceReader{})
	inactive := room(2)
	inactive.IsActive = false
	broken := room(0)

	cases := []struct {
		name     string
		resource *models.Resource
		start    time.Time
		end      time.Time
		qty      int
		reason   Reason
		kind     apperror.Kind
	}{
		{"missing resource", nil, at(0), at(1), 1, ReasonResourceNotFound, apperror.KindNotFound},
		{"inactive before quantity", inactive, at(1), at(0), 0, ReasonResourceInactive, apperror.KindInvalidRequest},
		{"zero quantity", room(2), at(1), at(0), 0, ReasonInvalidQuantity, apperror.KindInvalidRequest},
		{"misconfigured capacity", broken, at(0), at(1), 1, ReasonMisconfigured, apperror.KindInvalidRequest},
		{"quantity above capacity", room(2), at(1), at(0), 3, ReasonExceedsCapacity, apperror.KindInvalidRequest},
		{"empty window", room(2), at(1), at(1), 1, ReasonInvalidWindow, apperror.KindInvalidRequest},
		{"inverted window", room(2), at(2), at(1), 1, ReasonInvalidWindow, apperror.KindInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.AssertAvailable(ctx, tc.resource, tc.start, tc.end, tc.qty, nil)
			rej, ok := AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, tc.reason, rej.Reason)
			assert.Equal(t, tc.kind, apperror.KindOf(err))
		})
	}
}

func TestAssertAvailableIsPure(t *testing.T) {
	ctx := context.Background()
	res := room(3)
	engine := New(sliceReader{
		booking(res, 0, 2, 1, models.ReservationConfirmed),
		booking(res, 1, 3, 1, models.ReservationPending),
	})
	first := engine.AssertAvailable(ctx, res, at(1), at(2), 2, nil)
	for i := 0; i < 10; i++ {
		again := engine.AssertAvailable(ctx, res, at(1), at(2), 2, nil)
		assert.Equal(t, first == nil, again == nil)
		if first != nil {
			assert.Equal(t, first.Error(), again.Error())
		}
	}
}
