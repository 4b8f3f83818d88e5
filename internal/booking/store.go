package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/availability"
	"github.com/Csepi/cal3-sub003/internal/models"
)

// ErrNotFound is returned by stores when a reservation or resource row does not exist.
var ErrNotFound = errors.New("booking: not found")

// Tx is the view of the store inside a reservation transaction. The resource row
// it was opened for stays locked until the transaction ends, so every admission
// decision made through it is serialized with concurrent writers of that resource.
type Tx interface {
	availability.Reader

	// Resource is the locked resource row as read inside the transaction.
	Resource() *models.Resource
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	// ListWaitlisted returns WAITLIST reservations of the resource overlapping the window, oldest first.
	ListWaitlisted(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error)
}

// Store persists reservations.
type Store interface {
	availability.Reader

	// WithResourceLock runs fn in a transaction holding an exclusive lock on the resource row.
	// Writes made through tx are committed only when fn returns nil.
	WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func(tx Tx) error) error
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// ListReservations returns reservations of the resource in any status overlapping the window, by start time.
	ListReservations(ctx context.Context, resourceID uuid.UUID, start, end time.Time) ([]models.Reservation, error)
}
