package reservation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns wall-clock time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// CustomerInfo is opaque to the engine; it is stored for display and audit
// only. Phone is required, name is optional.
type CustomerInfo struct {
	Name  string
	Phone string
}

// Reservation is a time-bounded claim on a single resource. Tenant and
// resource scope are immutable after creation.
type Reservation struct {
	ID         uuid.UUID
	TenantID   string
	ResourceID string
	Range      TimeRange
	Status     Status

	// ExpiresAt is set only while Status is pending.
	ExpiresAt *time.Time

	// ExternalEventID references a mirrored external-calendar event. The
	// engine stores it opaquely on behalf of the sync collaborator.
	ExternalEventID string

	Customer  CustomerInfo
	CreatedAt time.Time
}

// IsLive reports whether the reservation participates in the no-overlap
// invariant.
func (r *Reservation) IsLive() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// IsExpired reports whether a pending hold has outlived its expires_at.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func (r *Reservation) isTerminal() bool {
	return r.Status == StatusCancelled || r.Status == StatusExpired
}

// Confirm transitions pending → confirmed. Expiry is evaluated lazily here:
// a hold past its expires_at fails with ErrReservationExpired even if no
// sweep has run yet.
func (r *Reservation) Confirm(now time.Time) error {
	switch {
	case r.Status == StatusConfirmed:
		return ErrInvalidTransition
	case r.isTerminal():
		return ErrInvalidTransition
	case r.IsExpired(now):
		return ErrReservationExpired
	}
	r.Status = StatusConfirmed
	r.ExpiresAt = nil
	return nil
}

// Cancel transitions pending|confirmed → cancelled.
func (r *Reservation) Cancel() error {
	if r.isTerminal() {
		return ErrInvalidTransition
	}
	r.Status = StatusCancelled
	r.ExpiresAt = nil
	return nil
}

// Expire transitions an overdue pending hold to expired. Expiring a
// reservation that has already left pending is a no-op so sweeps stay
// idempotent.
func (r *Reservation) Expire(now time.Time) (bool, error) {
	if r.Status != StatusPending {
		return false, nil
	}
	if !r.IsExpired(now) {
		return false, nil
	}
	r.Status = StatusExpired
	r.ExpiresAt = nil
	return true, nil
}
