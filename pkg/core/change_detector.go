package core

import (
	"slices"
	"sync"
)

// DirtyEntry is one member of a drained dirty set.
type DirtyEntry struct {
	ID ID
	// Fields is the sorted union of state fields changed since the entry was
	// created. It is empty when the instance was marked for another reason,
	// such as replaced props or a changed ambient value.
	Fields []string
}

// ChangeDetector aggregates mutation notifications into the set of
// instances that need an update cycle on the next flush. Marking an
// instance that is already in the set only widens its changed fields.
type ChangeDetector struct {
	mu    sync.Mutex
	dirty map[ID]map[string]struct{}

	// OnNeedsFlush is called when the set goes from empty to non-empty,
	// signalling the host loop that a flush should be scheduled.
	OnNeedsFlush func()
}

// NewChangeDetector creates an empty ChangeDetector.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{dirty: make(map[ID]map[string]struct{})}
}

// Mark adds id to the dirty set and records the changed fields.
func (d *ChangeDetector) Mark(id ID, fields ...string) {
	first := func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		wasEmpty := len(d.dirty) == 0
		set, ok := d.dirty[id]
		if !ok {
			set = make(map[string]struct{}, len(fields))
			d.dirty[id] = set
		}
		for _, f := range fields {
			set[f] = struct{}{}
		}
		return wasEmpty && !ok
	}()

	if first && d.OnNeedsFlush != nil {
		d.OnNeedsFlush()
	}
}

// Contains reports whether id is dirty.
func (d *ChangeDetector) Contains(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dirty[id]
	return ok
}

// Len returns the number of dirty instances.
func (d *ChangeDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dirty)
}

// Changed returns the sorted changed fields recorded for id.
func (d *ChangeDetector) Changed(id ID) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedFields(d.dirty[id])
}

// Discard removes id from the dirty set. It reports whether id was dirty.
func (d *ChangeDetector) Discard(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dirty[id]
	delete(d.dirty, id)
	return ok
}

// Drain empties the set and returns its members in ascending ID order.
// Marks made after Drain returns land in a fresh set.
func (d *ChangeDetector) Drain() []DirtyEntry {
	d.mu.Lock()
	dirty := d.dirty
	d.dirty = make(map[ID]map[string]struct{})
	d.mu.Unlock()

	entries := make([]DirtyEntry, 0, len(dirty))
	for id, set := range dirty {
		entries = append(entries, DirtyEntry{ID: id, Fields: sortedFields(set)})
	}
	slices.SortFunc(entries, func(a, b DirtyEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return entries
}

func sortedFields(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
