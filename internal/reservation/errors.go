package reservation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRange is returned when a range ends at or before its start.
	ErrInvalidRange = errors.New("reservation: invalid time range")

	// ErrSlotUnavailable is the sentinel behind SlotUnavailableError.
	ErrSlotUnavailable = errors.New("reservation: slot unavailable")

	// ErrReservationNotFound is returned when an id resolves to nothing.
	ErrReservationNotFound = errors.New("reservation: not found")

	// ErrReservationExpired is returned when confirming a hold whose
	// expires_at has already passed, whether or not a sweep has run.
	ErrReservationExpired = errors.New("reservation: expired")

	// ErrInvalidTransition is returned for any move out of a terminal
	// status, or any other transition the lifecycle does not allow.
	ErrInvalidTransition = errors.New("reservation: invalid status transition")
)

// SlotUnavailableError reports a conflict detected at reserve time. It
// carries the id of one conflicting live reservation for diagnostics.
type SlotUnavailableError struct {
	ConflictingID uuid.UUID
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("reservation: slot unavailable (conflicts with %s)", e.ConflictingID)
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }
