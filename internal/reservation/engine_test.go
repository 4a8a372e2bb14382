package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookwell/reservation-engine/internal/reservation"
	"github.com/bookwell/reservation-engine/internal/store"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testBase = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*reservation.Engine, *store.Memory, *fakeClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := newFakeClock(testBase)
	engine := reservation.NewEngine(mem, logging.NewWithWriter("error", testWriter{t}),
		reservation.WithClock(clock),
	)
	return engine, mem, clock
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func input(tenant, resource string, startMin, endMin int) reservation.ReserveInput {
	return reservation.ReserveInput{
		TenantID:   tenant,
		ResourceID: resource,
		Start:      testBase.Add(time.Duration(startMin) * time.Minute),
		End:        testBase.Add(time.Duration(endMin) * time.Minute),
		Customer:   reservation.CustomerInfo{Name: "Ana", Phone: "+15550001111"},
	}
}

func TestReserveThenConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)) // 10:00–10:30
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if first.Status != reservation.StatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}
	if first.ExpiresAt == nil {
		t.Fatalf("pending reservation must carry expires_at")
	}

	_, err = engine.Reserve(ctx, input("tenant-1", "dr-a", 75, 105)) // 10:15–10:45
	if !errors.Is(err, reservation.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	var conflict *reservation.SlotUnavailableError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SlotUnavailableError, got %T", err)
	}
	if conflict.ConflictingID != first.ID {
		t.Fatalf("conflict id = %s, want %s", conflict.ConflictingID, first.ID)
	}
}

func TestAdjacencyIsNotConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 90, 120)); err != nil {
		t.Fatalf("adjacent reserve should succeed: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Same resource id under two tenants never conflicts.
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("tenant-1 reserve: %v", err)
	}
	if _, err := engine.Reserve(ctx, input("tenant-2", "dr-a", 60, 90)); err != nil {
		t.Fatalf("tenant-2 reserve should not see tenant-1: %v", err)
	}
}

func TestReserveValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 90, 90))
	if !errors.Is(err, reservation.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	in := input("tenant-1", "dr-a", 60, 90)
	in.Customer.Phone = ""
	if _, err := engine.Reserve(ctx, in); err == nil {
		t.Fatalf("expected error for missing phone")
	}
}

func TestConcurrentOverlapExactlyOneWins(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	inputs := []reservation.ReserveInput{
		input("tenant-1", "dr-a", 60, 90),  // 10:00–10:30
		input("tenant-1", "dr-a", 75, 105), // 10:15–10:45
	}
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Reserve(ctx, inputs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, reservation.ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestNoOverlapInvariantUnderRandomConcurrency(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()

	const callers = 32
	rng := rand.New(rand.NewSource(1))
	inputs := make([]reservation.ReserveInput, callers)
	for i := range inputs {
		start := rng.Intn(180)
		length := 15 + rng.Intn(45)
		inputs[i] = input("tenant-1", "dr-a", start, start+length)
		inputs[i].Customer.Phone = fmt.Sprintf("+1555000%04d", i)
	}

	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(in reservation.ReserveInput) {
			defer wg.Done()
			_, err := engine.Reserve(ctx, in)
			if err != nil && !errors.Is(err, reservation.ErrSlotUnavailable) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}(inputs[i])
	}
	wg.Wait()

	live, err := mem.ListLive(ctx)
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	if len(live) == 0 {
		t.Fatalf("expected at least one winner")
	}
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if live[i].Range.Overlaps(live[j].Range) {
				t.Fatalf("live reservations overlap: %v and %v", live[i].Range, live[j].Range)
			}
		}
	}
}

func TestConfirmAndCancelFlow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	confirmed, err := engine.Confirm(ctx, res.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != reservation.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
	if confirmed.ExpiresAt != nil {
		t.Fatalf("confirmed reservation must not carry expires_at")
	}

	// Slot still occupied while confirmed.
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); !errors.Is(err, reservation.ErrSlotUnavailable) {
		t.Fatalf("expected conflict with confirmed reservation, got %v", err)
	}

	cancelled, err := engine.Cancel(ctx, res.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != reservation.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancellation frees the slot immediately.
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("reserve after cancel: %v", err)
	}
}

func TestConfirmUnknownReservation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Confirm(context.Background(), uuid.New()); !errors.Is(err, reservation.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestConfirmAfterExpiryFreesSlotWithoutSweep(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	in := input("tenant-1", "dr-a", 60, 90)
	in.Hold = time.Minute
	res, err := engine.Reserve(ctx, in)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := engine.Confirm(ctx, res.ID); !errors.Is(err, reservation.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}

	// The lazy expiry retired the hold; the slot is free with no sweep run.
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("reserve after lazy expiry: %v", err)
	}

	got, err := engine.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != reservation.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestQueryAvailability(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	available, err := engine.QueryAvailability(ctx, "tenant-1", "dr-a", testBase.Add(time.Hour), testBase.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !available {
		t.Fatalf("empty calendar should be available")
	}

	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	available, err = engine.QueryAvailability(ctx, "tenant-1", "dr-a", testBase.Add(time.Hour), testBase.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if available {
		t.Fatalf("occupied slot reported available")
	}

	// Query must not mutate: reserving the free adjacent slot still works.
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 90, 120)); err != nil {
		t.Fatalf("reserve adjacent: %v", err)
	}
}

func TestInstantConfirmSkipsHold(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	in := input("tenant-1", "dr-a", 60, 90)
	in.InstantConfirm = true
	res, err := engine.Reserve(ctx, in)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != reservation.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Status)
	}
	if res.ExpiresAt != nil {
		t.Fatalf("instant-book must not carry expires_at")
	}
}

// failingStore wraps Memory and fails writes on demand.
type failingStore struct {
	*store.Memory
	failCreate bool
	failUpdate bool
}

func (f *failingStore) Create(ctx context.Context, res *reservation.Reservation) error {
	if f.failCreate {
		return errors.New("store down")
	}
	return f.Memory.Create(ctx, res)
}

func (f *failingStore) Update(ctx context.Context, res *reservation.Reservation) error {
	if f.failUpdate {
		return errors.New("store down")
	}
	return f.Memory.Update(ctx, res)
}

func TestReserveStoreFailureLeavesNoCalendarEntry(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory(), failCreate: true}
	engine := reservation.NewEngine(fs, logging.NewWithWriter("error", testWriter{t}),
		reservation.WithClock(newFakeClock(testBase)),
	)
	ctx := context.Background()

	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err == nil {
		t.Fatalf("expected store error")
	}

	// The failed attempt must not leave a phantom calendar entry behind.
	fs.failCreate = false
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("reserve after store recovery: %v", err)
	}
}

func TestLazyExpiryStoreFailureKeepsSlotBlocked(t *testing.T) {
	fs := &failingStore{Memory: store.NewMemory()}
	clock := newFakeClock(testBase)
	engine := reservation.NewEngine(fs, logging.NewWithWriter("error", testWriter{t}),
		reservation.WithClock(clock),
	)
	ctx := context.Background()

	in := input("tenant-1", "dr-a", 60, 90)
	in.Hold = time.Minute
	res, err := engine.Reserve(ctx, in)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(2 * time.Minute)

	// The lazy expiry cannot be persisted; the row still says pending, so
	// the slot must stay blocked rather than double-book.
	fs.failUpdate = true
	if _, err := engine.Confirm(ctx, res.ID); err == nil || errors.Is(err, reservation.ErrReservationExpired) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); !errors.Is(err, reservation.ErrSlotUnavailable) {
		t.Fatalf("expected conflict while row is still live, got %v", err)
	}

	live, err := fs.ListLive(ctx)
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected one live row, got %d", len(live))
	}

	// Once the store recovers the next sweep retires the hold and frees
	// the slot.
	fs.failUpdate = false
	if n, err := engine.ExpireDue(ctx, clock.Now()); err != nil || n != 1 {
		t.Fatalf("ExpireDue = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90)); err != nil {
		t.Fatalf("reserve after sweep: %v", err)
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []reservation.SyncEvent
	cancelled []reservation.SyncEvent
}

func (n *recordingNotifier) ReservationConfirmed(ev reservation.SyncEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, ev)
}

func (n *recordingNotifier) ReservationCancelled(ev reservation.SyncEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, ev)
}

func TestNotifierReceivesCommittedTransitions(t *testing.T) {
	notifier := &recordingNotifier{}
	mem := store.NewMemory()
	engine := reservation.NewEngine(mem, logging.NewWithWriter("error", testWriter{t}),
		reservation.WithClock(newFakeClock(testBase)),
		reservation.WithSyncNotifier(notifier),
	)
	ctx := context.Background()

	res, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(notifier.confirmed) != 0 {
		t.Fatalf("pending reserve must not notify")
	}

	if _, err := engine.Confirm(ctx, res.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(notifier.confirmed) != 1 || notifier.confirmed[0].ReservationID != res.ID {
		t.Fatalf("expected one confirm notification, got %+v", notifier.confirmed)
	}

	if _, err := engine.Cancel(ctx, res.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(notifier.cancelled) != 1 {
		t.Fatalf("expected one cancel notification, got %+v", notifier.cancelled)
	}
}

func TestRecordExternalEventID(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Reserve(ctx, input("tenant-1", "dr-a", 60, 90))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := engine.RecordExternalEventID(ctx, res.ID, "gcal-evt-42"); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := engine.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExternalEventID != "gcal-evt-42" {
		t.Fatalf("external event id = %q, want gcal-evt-42", got.ExternalEventID)
	}
}

func TestRebuildSeedsCalendars(t *testing.T) {
	mem := store.NewMemory()
	clock := newFakeClock(testBase)
	first := reservation.NewEngine(mem, logging.NewWithWriter("error", testWriter{t}), reservation.WithClock(clock))
	ctx := context.Background()

	res, err := first.Reserve(ctx, input("tenant-1", "dr-a", 60, 90))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// A fresh engine over the same store must see the live reservation
	// after Rebuild.
	second := reservation.NewEngine(mem, logging.NewWithWriter("error", testWriter{t}), reservation.WithClock(clock))
	if err := second.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	_, err = second.Reserve(ctx, input("tenant-1", "dr-a", 75, 105))
	var conflict *reservation.SlotUnavailableError
	if !errors.As(err, &conflict) || conflict.ConflictingID != res.ID {
		t.Fatalf("expected conflict with rebuilt entry, got %v", err)
	}
}
