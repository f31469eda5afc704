package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind identifies an alert family. Cooldowns are tracked per (package, Kind).
type Kind string

const (
	KindSustained Kind = "temp"
	KindDoor      Kind = "door"
)

// State is the mutable alert state of one package.
type State struct {
	ConsecutiveBad int                `json:"consecutive_bad_count"`
	TempLatched    bool               `json:"temp_alert_latched"`
	DoorLatched    bool               `json:"door_alert_latched"`
	LastNotified   map[Kind]time.Time `json:"last_notified_at,omitempty"`
}

func (s State) clone() State {
	cp := s
	if s.LastNotified != nil {
		cp.LastNotified = make(map[Kind]time.Time, len(s.LastNotified))
		for k, v := range s.LastNotified {
			cp.LastNotified[k] = v
		}
	}
	return cp
}

// Check reports the first broken invariant, or nil.
func (s *State) Check(now time.Time) error {
	if s.ConsecutiveBad < 0 {
		return fmt.Errorf("consecutive_bad_count is negative (%d)", s.ConsecutiveBad)
	}
	for k, t := range s.LastNotified {
		if t.After(now) {
			return fmt.Errorf("last_notified_at[%s] %s is in the future", k, t.Format(time.RFC3339))
		}
	}
	return nil
}

// Repair forces the state back into its valid range.
func (s *State) Repair(now time.Time) {
	if s.ConsecutiveBad < 0 {
		s.ConsecutiveBad = 0
	}
	for k, t := range s.LastNotified {
		if t.After(now) {
			s.LastNotified[k] = now
		}
	}
}

// PackageState pairs a package id with a snapshot of its state.
type PackageState struct {
	PackageID string `json:"package_id"`
	State
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Table owns the alert state of every package seen so far. Entries are
// created on first use and live for the process lifetime.
//
// Table is safe for concurrent use; calls for the same package are
// serialized, calls for different packages are not.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) entry(id string) *entry {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[id]; ok {
		return e
	}
	e = &entry{}
	t.entries[id] = e
	return e
}

// Update runs fn with exclusive access to the state of package id,
// creating it if needed.
func (t *Table) Update(id string, fn func(*State)) {
	e := t.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// Get returns a copy of the state of package id.
func (t *Table) Get(id string) (State, bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// List returns a copy of every package state, sorted by package id.
func (t *Table) List() []PackageState {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	entries := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]PackageState, len(ids))
	for i, e := range entries {
		e.mu.Lock()
		out[i] = PackageState{PackageID: ids[i], State: e.state.clone()}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageID < out[j].PackageID })
	return out
}

// Len returns the number of packages tracked.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
