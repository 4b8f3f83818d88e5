package availability

import (
	"errors"
	"fmt"

	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

// Reason identifies which admission check failed.
type Reason string

const (
	ReasonResourceNotFound Reason = "resource_not_found"
	ReasonResourceInactive Reason = "resource_inactive"
	ReasonInvalidQuantity  Reason = "invalid_quantity"
	ReasonMisconfigured    Reason = "capacity_misconfigured"
	ReasonExceedsCapacity  Reason = "quantity_exceeds_capacity"
	ReasonInvalidWindow    Reason = "invalid_window"
	ReasonCapacityExceeded Reason = "capacity_exceeded"
)

// Rejection explains a refused admission. It unwraps to an *apperror.Error.
type Rejection struct {
	Reason    Reason
	Remaining int
	Capacity  int
	err       *apperror.Error
}

func reject(reason Reason, err *apperror.Error) *Rejection {
	return &Rejection{Reason: reason, err: err}
}

func capacityExceeded(remaining, capacity int) *Rejection {
	err := apperror.New(apperror.KindCapacityExceeded,
		fmt.Sprintf("only %d of %d units available", remaining, capacity)).
		WithDetail("remaining", remaining).
		WithDetail("capacity", capacity)
	return &Rejection{Reason: ReasonCapacityExceeded, Remaining: remaining, Capacity: capacity, err: err}
}

func (r *Rejection) Error() string { return r.err.Message }

func (r *Rejection) Unwrap() error { return r.err }

// AsRejection extracts a *Rejection from err's chain.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
