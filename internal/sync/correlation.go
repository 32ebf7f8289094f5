package sync

import (
	"iter"
	"maps"
	"slices"
)

// Entry links one calendar event to the remote assignment created for it.
type Entry struct {
	AssignmentID int64
	OwnerID      int64
	LeaveTypeID  int64
	Start        Date
	End          Date
}

// Correlations is the in-memory correlation table for one run. It records
// which keys changed since load so a commit writes only those rows.
type Correlations struct {
	entries map[string]Entry
	dirty   map[string]bool
	removed map[string]bool
}

// NewCorrelations wraps a loaded table. The map is copied; nothing is dirty.
func NewCorrelations(loaded map[string]Entry) *Correlations {
	entries := make(map[string]Entry, len(loaded))
	maps.Copy(entries, loaded)

	return &Correlations{
		entries: entries,
		dirty:   make(map[string]bool),
		removed: make(map[string]bool),
	}
}

// Get returns the entry for eventID.
func (c *Correlations) Get(eventID string) (Entry, bool) {
	e, ok := c.entries[eventID]
	return e, ok
}

// Put inserts or replaces the entry for eventID.
func (c *Correlations) Put(eventID string, e Entry) {
	c.entries[eventID] = e
	c.dirty[eventID] = true
	delete(c.removed, eventID)
}

// Remove deletes the entry for eventID. Removing an absent key is a no-op.
func (c *Correlations) Remove(eventID string) {
	if _, ok := c.entries[eventID]; !ok {
		return
	}

	delete(c.entries, eventID)
	delete(c.dirty, eventID)
	c.removed[eventID] = true
}

// Len returns the number of entries.
func (c *Correlations) Len() int { return len(c.entries) }

// All yields every entry ordered by event id.
func (c *Correlations) All() iter.Seq2[string, Entry] {
	return func(yield func(string, Entry) bool) {
		for _, id := range slices.Sorted(maps.Keys(c.entries)) {
			if !yield(id, c.entries[id]) {
				return
			}
		}
	}
}

// PurgeExpired removes every entry whose end date is strictly before today
// and returns how many were removed.
func (c *Correlations) PurgeExpired(today Date) int {
	purged := 0

	for id, e := range c.entries {
		if e.End.Before(today) {
			c.Remove(id)
			purged++
		}
	}

	return purged
}

// Clear removes every entry.
func (c *Correlations) Clear() {
	for id := range c.entries {
		c.Remove(id)
	}
}

// isDirty reports whether anything changed since load.
func (c *Correlations) isDirty() bool {
	return len(c.dirty) > 0 || len(c.removed) > 0
}

// changes returns the rows to upsert and the keys to delete, both sorted.
func (c *Correlations) changes() (upserts []string, removals []string) {
	return slices.Sorted(maps.Keys(c.dirty)), slices.Sorted(maps.Keys(c.removed))
}

// markClean forgets pending changes after a successful commit.
func (c *Correlations) markClean() {
	clear(c.dirty)
	clear(c.removed)
}
