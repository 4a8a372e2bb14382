package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookwell/reservation-engine/internal/reservation"
)

// Memory is an in-memory reservation store for tests and single-process
// dev mode.
type Memory struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*reservation.Reservation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[uuid.UUID]*reservation.Reservation)}
}

func cloneReservation(res *reservation.Reservation) *reservation.Reservation {
	out := *res
	if res.ExpiresAt != nil {
		t := *res.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// Create stores a copy of the reservation.
func (m *Memory) Create(ctx context.Context, res *reservation.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[res.ID] = cloneReservation(res)
	return nil
}

// Get returns a copy of the reservation, or ErrReservationNotFound.
func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.rows[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return cloneReservation(res), nil
}

// Update replaces the stored row.
func (m *Memory) Update(ctx context.Context, res *reservation.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[res.ID]; !ok {
		return reservation.ErrReservationNotFound
	}
	m.rows[res.ID] = cloneReservation(res)
	return nil
}

// ListLive returns all pending and confirmed reservations.
func (m *Memory) ListLive(ctx context.Context) ([]*reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*reservation.Reservation
	for _, res := range m.rows {
		if res.IsLive() {
			out = append(out, cloneReservation(res))
		}
	}
	sortByStart(out)
	return out, nil
}

// ListDuePending returns pending reservations with expires_at at or before
// asOf.
func (m *Memory) ListDuePending(ctx context.Context, asOf time.Time) ([]*reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*reservation.Reservation
	for _, res := range m.rows {
		if res.Status == reservation.StatusPending && res.ExpiresAt != nil && !asOf.Before(*res.ExpiresAt) {
			out = append(out, cloneReservation(res))
		}
	}
	sortByStart(out)
	return out, nil
}

// PurgeTenant removes every reservation belonging to the tenant, mirroring
// the cascading delete the Postgres schema performs.
func (m *Memory) PurgeTenant(ctx context.Context, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, res := range m.rows {
		if res.TenantID == tenantID {
			delete(m.rows, id)
			removed++
		}
	}
	return removed
}

func sortByStart(rows []*reservation.Reservation) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Range.Start.Before(rows[j].Range.Start)
	})
}
