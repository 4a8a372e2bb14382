// Package calendarsync mirrors committed reservation transitions to an
// external calendar. Notifications are dispatched after the engine's
// resource lock is released and are strictly best-effort: a sync failure
// never fails a booking.
package calendarsync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bookwell/reservation-engine/internal/reservation"
	"github.com/bookwell/reservation-engine/internal/tenancy"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

// Syncer writes reservation transitions to the external calendar.
// EventCreated returns the external event id to store on the reservation.
type Syncer interface {
	EventCreated(ctx context.Context, ev reservation.SyncEvent) (string, error)
	EventCancelled(ctx context.Context, ev reservation.SyncEvent) error
}

// EventRecorder stores the mirrored event id back on the reservation.
type EventRecorder interface {
	RecordExternalEventID(ctx context.Context, id uuid.UUID, externalEventID string) error
}

type jobKind int

const (
	jobConfirmed jobKind = iota
	jobCancelled
)

type job struct {
	kind jobKind
	ev   reservation.SyncEvent
}

// Dispatcher queues transitions and replays them against the syncer from a
// single background goroutine.
type Dispatcher struct {
	syncer   Syncer
	recorder EventRecorder
	logger   *logging.Logger
	jobs     chan job
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher with a bounded queue. When the queue
// is full events are dropped with a log line rather than blocking the
// booking path.
func NewDispatcher(syncer Syncer, recorder EventRecorder, queueSize int, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		syncer:   syncer,
		recorder: recorder,
		logger:   logger,
		jobs:     make(chan job, queueSize),
		timeout:  10 * time.Second,
	}
}

// ReservationConfirmed enqueues a confirmed transition.
func (d *Dispatcher) ReservationConfirmed(ev reservation.SyncEvent) {
	d.enqueue(job{kind: jobConfirmed, ev: ev})
}

// ReservationCancelled enqueues a cancelled transition.
func (d *Dispatcher) ReservationCancelled(ev reservation.SyncEvent) {
	d.enqueue(job{kind: jobCancelled, ev: ev})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
	default:
		d.logger.Warn("calendarsync: queue full, dropping event",
			"reservation_id", j.ev.ReservationID, "tenant_id", j.ev.TenantID)
	}
}

// Run processes queued events until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("calendar sync dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("calendar sync dispatcher shutting down")
			return
		case j := <-d.jobs:
			d.process(j)
		}
	}
}

// Drain processes everything currently queued, for tests and shutdown.
func (d *Dispatcher) Drain() {
	for {
		select {
		case j := <-d.jobs:
			d.process(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	// The dispatcher is the tenancy boundary for sync work; everything
	// downstream resolves the tenant from the context.
	ctx = tenancy.WithTenantID(ctx, j.ev.TenantID)

	switch j.kind {
	case jobConfirmed:
		eventID, err := d.syncer.EventCreated(ctx, j.ev)
		if err != nil {
			d.logger.Error("calendarsync: create event failed",
				"reservation_id", j.ev.ReservationID, "tenant_id", j.ev.TenantID, "error", err)
			return
		}
		if eventID == "" || d.recorder == nil {
			return
		}
		if err := d.recorder.RecordExternalEventID(ctx, j.ev.ReservationID, eventID); err != nil {
			d.logger.Error("calendarsync: record event id failed",
				"reservation_id", j.ev.ReservationID, "error", err)
		}
	case jobCancelled:
		if err := d.syncer.EventCancelled(ctx, j.ev); err != nil {
			d.logger.Error("calendarsync: cancel event failed",
				"reservation_id", j.ev.ReservationID, "tenant_id", j.ev.TenantID, "error", err)
		}
	}
}
