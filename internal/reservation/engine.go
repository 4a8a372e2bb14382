package reservation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bookwell/reservation-engine/internal/observability/metrics"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

var engineTracer = otel.Tracer("bookwell.internal.reservation")

// Store is the durable record of reservations the engine writes through.
type Store interface {
	Create(ctx context.Context, res *Reservation) error
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Update(ctx context.Context, res *Reservation) error
	ListLive(ctx context.Context) ([]*Reservation, error)
	ListDuePending(ctx context.Context, asOf time.Time) ([]*Reservation, error)
}

// SyncEvent describes a committed transition for the calendar-sync
// collaborator. It is dispatched after the resource lock is released.
type SyncEvent struct {
	ReservationID   uuid.UUID
	TenantID        string
	ResourceID      string
	Range           TimeRange
	ExternalEventID string
	CustomerName    string
}

// SyncNotifier receives confirmed/cancelled transitions asynchronously.
type SyncNotifier interface {
	ReservationConfirmed(ev SyncEvent)
	ReservationCancelled(ev SyncEvent)
}

// AvailabilityCache is an optional read-path cache for pre-flight
// availability checks. Get returns an opaque token pinning the resource
// state it observed; Set stores the answer under that token, so a mutation
// between the two leaves the stale write unreachable. Implementations must
// tolerate concurrent use.
type AvailabilityCache interface {
	Get(ctx context.Context, tenantID, resourceID string, r TimeRange) (available, ok bool, token int64)
	Set(ctx context.Context, tenantID, resourceID string, r TimeRange, available bool, token int64)
	Invalidate(ctx context.Context, tenantID, resourceID string)
}

type resourceKey struct {
	tenantID   string
	resourceID string
}

// resourceState is the unit of mutual exclusion: every mutation and the
// conflict check inside Reserve for one (tenant, resource) pair run under
// its mutex. Different resources never contend.
type resourceState struct {
	mu  sync.Mutex
	cal *Calendar
}

// Engine validates and commits reservations against per-resource calendars.
type Engine struct {
	store    Store
	clock    Clock
	hold     time.Duration
	logger   *logging.Logger
	metrics  *metrics.ReservationMetrics
	cache    AvailabilityCache
	notifier SyncNotifier

	mu        sync.RWMutex
	resources map[resourceKey]*resourceState
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithDefaultHold sets the hold duration applied when Reserve is called
// without one.
func WithDefaultHold(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.hold = d
		}
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAvailabilityCache attaches a pre-flight availability cache.
func WithAvailabilityCache(c AvailabilityCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSyncNotifier attaches the calendar-sync collaborator.
func WithSyncNotifier(n SyncNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// SetSyncNotifier attaches the calendar-sync collaborator after
// construction, for wiring cycles where the collaborator needs the engine.
func (e *Engine) SetSyncNotifier(n SyncNotifier) { e.notifier = n }

// DefaultHold is applied when callers do not specify a hold duration.
const DefaultHold = 15 * time.Minute

// NewEngine constructs the availability engine.
func NewEngine(store Store, logger *logging.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("reservation: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:     store,
		clock:     RealClock{},
		hold:      DefaultHold,
		logger:    logger,
		resources: make(map[resourceKey]*resourceState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// state returns the lock + calendar for one resource, creating it lazily.
func (e *Engine) state(key resourceKey) *resourceState {
	e.mu.RLock()
	st, ok := e.resources[key]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.resources[key]; ok {
		return st
	}
	st = &resourceState{cal: NewCalendar()}
	e.resources[key] = st
	return st
}

// Rebuild seeds the calendars from the store's live reservations. Call once
// at startup before serving traffic.
func (e *Engine) Rebuild(ctx context.Context) error {
	live, err := e.store.ListLive(ctx)
	if err != nil {
		return fmt.Errorf("reservation: rebuild calendars: %w", err)
	}
	for _, res := range live {
		st := e.state(resourceKey{res.TenantID, res.ResourceID})
		st.mu.Lock()
		st.cal.Insert(res)
		st.mu.Unlock()
	}
	e.logger.Info("calendars rebuilt", "live_reservations", len(live))
	return nil
}

// ReserveInput describes a booking request.
type ReserveInput struct {
	TenantID   string
	ResourceID string
	Start      time.Time
	End        time.Time

	// Hold bounds how long the pending reservation blocks the slot before
	// confirmation. Zero means the engine default. Ignored for instant-book.
	Hold time.Duration

	// InstantConfirm creates the reservation directly confirmed.
	InstantConfirm bool

	Customer CustomerInfo
}

// Reserve commits a new reservation, or fails with SlotUnavailableError if
// any live reservation overlaps the requested range. The conflict check and
// both inserts happen inside one per-resource critical section, so two
// concurrent overlapping calls resolve first-committer-wins: exactly one
// succeeds.
func (e *Engine) Reserve(ctx context.Context, in ReserveInput) (*Reservation, error) {
	ctx, span := engineTracer.Start(ctx, "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookwell.tenant_id", in.TenantID),
		attribute.String("bookwell.resource_id", in.ResourceID),
	)

	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.ResourceID) == "" {
		return nil, fmt.Errorf("reservation: tenant and resource ids required")
	}
	if strings.TrimSpace(in.Customer.Phone) == "" {
		return nil, fmt.Errorf("reservation: customer phone required")
	}
	rng, err := NewTimeRange(in.Start, in.End)
	if err != nil {
		e.metrics.ObserveReserve("invalid_range")
		return nil, err
	}
	hold := in.Hold
	if hold <= 0 {
		hold = e.hold
	}

	now := e.clock.Now()
	res := &Reservation{
		ID:         uuid.New(),
		TenantID:   in.TenantID,
		ResourceID: in.ResourceID,
		Range:      rng,
		Status:     StatusPending,
		Customer:   in.Customer,
		CreatedAt:  now,
	}
	if in.InstantConfirm {
		res.Status = StatusConfirmed
	} else {
		expires := now.Add(hold)
		res.ExpiresAt = &expires
	}

	st := e.state(resourceKey{in.TenantID, in.ResourceID})
	st.mu.Lock()
	if conflicts := st.cal.Conflicts(rng); len(conflicts) > 0 {
		st.mu.Unlock()
		e.metrics.ObserveReserve("conflict")
		return nil, &SlotUnavailableError{ConflictingID: conflicts[0]}
	}
	st.cal.Insert(res)
	if err := e.store.Create(ctx, res); err != nil {
		st.cal.Remove(res)
		st.mu.Unlock()
		e.metrics.ObserveReserve("store_error")
		span.RecordError(err)
		return nil, err
	}
	entries := st.cal.Len()
	st.mu.Unlock()

	e.metrics.ObserveReserve("ok")
	e.metrics.SetCalendarEntries(in.TenantID, in.ResourceID, entries)
	e.invalidate(ctx, in.TenantID, in.ResourceID)
	if in.InstantConfirm && e.notifier != nil {
		e.notifier.ReservationConfirmed(syncEvent(res))
	}
	e.logger.Info("reservation created",
		"reservation_id", res.ID,
		"tenant_id", res.TenantID,
		"resource_id", res.ResourceID,
		"status", string(res.Status),
		"start", res.Range.Start,
		"end", res.Range.End,
	)
	return res, nil
}

// Confirm transitions a pending reservation to confirmed. A hold past its
// expires_at is retired on the spot and fails with ErrReservationExpired,
// even if the sweeper has not run yet.
func (e *Engine) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx, span := engineTracer.Start(ctx, "reservation.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("bookwell.reservation_id", id.String()))

	res, st, err := e.lockReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if err := res.Confirm(now); err != nil {
		if err == ErrReservationExpired {
			// Lazy expiry: retire the hold and free the slot now.
			if changed, _ := res.Expire(now); changed {
				st.cal.Remove(res)
				if uerr := e.store.Update(ctx, res); uerr != nil {
					// The row still says pending; keep the entry so the
					// slot stays blocked until the next sweep retires it.
					st.cal.Insert(res)
					st.mu.Unlock()
					span.RecordError(uerr)
					return nil, uerr
				}
				e.metrics.ObserveTransition(string(StatusExpired))
			}
			st.mu.Unlock()
			e.invalidate(ctx, res.TenantID, res.ResourceID)
			return nil, ErrReservationExpired
		}
		st.mu.Unlock()
		return nil, err
	}
	if err := e.store.Update(ctx, res); err != nil {
		st.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}
	st.mu.Unlock()

	e.metrics.ObserveTransition(string(StatusConfirmed))
	if e.notifier != nil {
		e.notifier.ReservationConfirmed(syncEvent(res))
	}
	e.logger.Info("reservation confirmed", "reservation_id", res.ID, "tenant_id", res.TenantID)
	return res, nil
}

// Cancel transitions a pending or confirmed reservation to cancelled and
// frees its calendar slot immediately.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx, span := engineTracer.Start(ctx, "reservation.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("bookwell.reservation_id", id.String()))

	res, st, err := e.lockReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := res.Cancel(); err != nil {
		st.mu.Unlock()
		return nil, err
	}
	st.cal.Remove(res)
	if err := e.store.Update(ctx, res); err != nil {
		// Put the entry back; the row still says live.
		st.cal.Insert(res)
		st.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}
	entries := st.cal.Len()
	st.mu.Unlock()

	e.metrics.ObserveTransition(string(StatusCancelled))
	e.metrics.SetCalendarEntries(res.TenantID, res.ResourceID, entries)
	e.invalidate(ctx, res.TenantID, res.ResourceID)
	if e.notifier != nil {
		e.notifier.ReservationCancelled(syncEvent(res))
	}
	e.logger.Info("reservation cancelled", "reservation_id", res.ID, "tenant_id", res.TenantID)
	return res, nil
}

// QueryAvailability reports whether the range is free of live reservations.
// Read-only; callers use it to pre-flight before committing to Reserve.
func (e *Engine) QueryAvailability(ctx context.Context, tenantID, resourceID string, start, end time.Time) (bool, error) {
	rng, err := NewTimeRange(start, end)
	if err != nil {
		return false, err
	}
	var token int64 = -1
	if e.cache != nil {
		available, ok, tok := e.cache.Get(ctx, tenantID, resourceID, rng)
		if ok {
			return available, nil
		}
		token = tok
	}
	st := e.state(resourceKey{tenantID, resourceID})
	st.mu.Lock()
	available := len(st.cal.Conflicts(rng)) == 0
	st.mu.Unlock()
	if e.cache != nil {
		e.cache.Set(ctx, tenantID, resourceID, rng, available, token)
	}
	return available, nil
}

// Get returns a reservation by id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return e.store.Get(ctx, id)
}

// ExpireDue retires every pending reservation whose expires_at is at or
// before asOf, freeing its slot. Each transition runs under the owning
// resource lock so sweeps never race an in-flight Reserve or Confirm.
// Re-sweeping an already-transitioned reservation is a no-op. Per-item
// failures are logged and left for the next sweep; they never abort the
// pass.
func (e *Engine) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	due, err := e.store.ListDuePending(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("reservation: list due holds: %w", err)
	}

	expired := 0
	for _, res := range due {
		st := e.state(resourceKey{res.TenantID, res.ResourceID})
		st.mu.Lock()
		// Re-read under the lock: the hold may have been confirmed or
		// cancelled since the listing.
		fresh, err := e.store.Get(ctx, res.ID)
		if err != nil {
			st.mu.Unlock()
			e.logger.Error("sweep: reload reservation", "reservation_id", res.ID, "error", err)
			continue
		}
		changed, _ := fresh.Expire(asOf)
		if !changed {
			st.mu.Unlock()
			continue
		}
		st.cal.Remove(fresh)
		if err := e.store.Update(ctx, fresh); err != nil {
			st.cal.Insert(fresh)
			st.mu.Unlock()
			e.logger.Error("sweep: persist expiry", "reservation_id", res.ID, "error", err)
			continue
		}
		entries := st.cal.Len()
		st.mu.Unlock()

		expired++
		e.metrics.ObserveTransition(string(StatusExpired))
		e.metrics.SetCalendarEntries(fresh.TenantID, fresh.ResourceID, entries)
		e.invalidate(ctx, fresh.TenantID, fresh.ResourceID)
	}
	return expired, nil
}

// RecordExternalEventID stores the collaborator's mirrored event id
// opaquely on the reservation.
func (e *Engine) RecordExternalEventID(ctx context.Context, id uuid.UUID, externalEventID string) error {
	res, st, err := e.lockReservation(ctx, id)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	res.ExternalEventID = externalEventID
	return e.store.Update(ctx, res)
}

// lockReservation resolves the reservation's resource, takes its lock, and
// re-reads the row under the lock. Callers must unlock st.mu.
func (e *Engine) lockReservation(ctx context.Context, id uuid.UUID) (*Reservation, *resourceState, error) {
	stale, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	st := e.state(resourceKey{stale.TenantID, stale.ResourceID})
	st.mu.Lock()
	res, err := e.store.Get(ctx, id)
	if err != nil {
		st.mu.Unlock()
		return nil, nil, err
	}
	return res, st, nil
}

func (e *Engine) invalidate(ctx context.Context, tenantID, resourceID string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, tenantID, resourceID)
	}
}

func syncEvent(res *Reservation) SyncEvent {
	return SyncEvent{
		ReservationID:   res.ID,
		TenantID:        res.TenantID,
		ResourceID:      res.ResourceID,
		Range:           res.Range,
		ExternalEventID: res.ExternalEventID,
		CustomerName:    res.Customer.Name,
	}
}
