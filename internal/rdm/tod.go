package rdm

import "sync"

// TOD is the Table of Devices: the bounded ordered set of UIDs found by the
// last discovery cycle, plus a latched "changed" flag. The latch is set when
// a completed cycle differs from the previous snapshot (membership or
// count), or unconditionally by Flush; only a Snapshot read clears it.
type TOD struct {
	mu      sync.Mutex
	uids    []UID
	changed bool
}

// Snapshot returns the current entries and count, clearing the changed
// latch as a side effect.
func (t *TOD) Snapshot() ([]UID, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UID, len(t.uids))
	copy(out, t.uids)
	t.changed = false
	return out, len(out)
}

// Changed is the non-destructive peek at the latch.
func (t *TOD) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Flush invalidates the cache and latches changed, even if the next
// discovery rebuilds an identical table.
func (t *TOD) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uids = t.uids[:0]
	t.changed = true
}

// commit replaces the table with the freshly discovered set and latches
// changed on any difference. Returns whether this cycle changed the table.
func (t *TOD) commit(found []UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	diff := len(found) != len(t.uids)
	if !diff {
		for i := range found {
			if found[i] != t.uids[i] {
				diff = true
				break
			}
		}
	}
	t.uids = append(t.uids[:0], found...)
	if diff {
		t.changed = true
	}
	return diff
}
