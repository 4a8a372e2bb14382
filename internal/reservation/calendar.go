package reservation

import (
	"bytes"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// calendarEntry is one live reservation in the index, keyed by start time
// with the id as tie-breaker so deletes match exactly.
type calendarEntry struct {
	Start time.Time
	End   time.Time
	ID    uuid.UUID
}

func entryLess(a, b calendarEntry) bool {
	if a.Start.Before(b.Start) {
		return true
	}
	if b.Start.Before(a.Start) {
		return false
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Calendar is the ordered index of live reservations for one
// (tenant, resource) pair. It carries no lock of its own: the engine
// serializes all access per resource.
type Calendar struct {
	tree *btree.BTreeG[calendarEntry]
}

// NewCalendar creates an empty calendar.
func NewCalendar() *Calendar {
	return &Calendar{tree: btree.NewG(8, entryLess)}
}

// Insert adds a live reservation to the index.
func (c *Calendar) Insert(res *Reservation) {
	c.tree.ReplaceOrInsert(calendarEntry{
		Start: res.Range.Start,
		End:   res.Range.End,
		ID:    res.ID,
	})
}

// Remove drops a reservation from the index. Removing an absent entry is a
// no-op, so transitions out of live can always call it.
func (c *Calendar) Remove(res *Reservation) {
	c.tree.Delete(calendarEntry{Start: res.Range.Start, ID: res.ID})
}

// Conflicts returns the ids of live reservations overlapping r, in start
// order. Because live entries are pairwise disjoint, the scan walks back
// from the first entry starting at or after r.End and stops at the first
// entry ending at or before r.Start.
func (c *Calendar) Conflicts(r TimeRange) []uuid.UUID {
	var ids []uuid.UUID
	pivot := calendarEntry{Start: r.End}
	c.tree.DescendLessOrEqual(pivot, func(e calendarEntry) bool {
		if !e.Start.Before(r.End) {
			return true // entry begins exactly at r.End: adjacency, keep walking
		}
		if !e.End.After(r.Start) {
			return false
		}
		ids = append(ids, e.ID)
		return true
	})
	// Reverse into start order; the descent visits latest-first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// Len returns the number of live entries.
func (c *Calendar) Len() int { return c.tree.Len() }
