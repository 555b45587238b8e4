package httpclient

import (
	"slices"
	"sync"
)

// filterList is an ordered, concurrency safe sequence of installed filters.
// Entries are identified by pointer, never by index, since indices shift on removal.
type filterList struct {
	mu      sync.RWMutex
	entries []*InstalledFilter
}

func (l *filterList) add(entry *InstalledFilter) *Registration {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return &Registration{entry: entry, owner: l}
}

func (l *filterList) remove(entry *InstalledFilter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.entries, entry)
	if i < 0 {
		return false
	}
	// Build a fresh slice so snapshots handed to running chains stay intact.
	l.entries = slices.Concat(l.entries[:i], l.entries[i+1:])
	return true
}

// snapshot returns the current entries. The returned slice is never written to.
func (l *filterList) snapshot() []*InstalledFilter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clip(l.entries)
}

func (l *filterList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Registration is the handle returned when a filter is added.
type Registration struct {
	entry *InstalledFilter
	owner *filterList
}

// Remove uninstalls the filter. Calling it again has no effect.
func (r *Registration) Remove() {
	if r == nil || r.owner == nil {
		return
	}
	r.owner.remove(r.entry)
}

// Installed returns the entry the registration refers to.
func (r *Registration) Installed() *InstalledFilter {
	return r.entry
}
