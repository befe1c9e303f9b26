package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange      = errors.New("invalid time range")
	ErrOverlap           = errors.New("slot overlaps an existing slot")
	ErrInvalidSlot       = errors.New("slot does not exist")
	ErrAlreadyBooked     = errors.New("slot already booked")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAllocationBusy    = errors.New("doctor availability is being modified, please retry")
)

// OverlapError names the slot that blocked a creation. It matches ErrOverlap.
type OverlapError struct {
	DoctorID int64
	StartsAt time.Time
	EndsAt   time.Time
	Existing *AvailabilitySlot
}

func (e *OverlapError) Error() string {
	if e.Existing == nil {
		return fmt.Sprintf("%s: doctor %d [%s, %s)", ErrOverlap, e.DoctorID,
			e.StartsAt.Format(time.RFC3339), e.EndsAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: doctor %d [%s, %s) conflicts with slot %d", ErrOverlap, e.DoctorID,
		e.StartsAt.Format(time.RFC3339), e.EndsAt.Format(time.RFC3339), e.Existing.ID)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlap
}
