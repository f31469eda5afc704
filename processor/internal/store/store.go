package store

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/greendelivery/coldchain/pkg/types"
)

// Entry is the activity of one package: its most recent record plus when it
// was first and last heard from.
type Entry struct {
	Record    *types.Record `json:"record"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	Records   uint64        `json:"records"`
}

// Latest tracks package activity. Packages silent for longer than the TTL
// are hidden from List and dropped by Evict.
type Latest struct {
	ttl     time.Duration
	now     func() time.Time
	onEvict func(Entry)

	mu   sync.RWMutex
	pkgs map[string]*Entry
}

// Option configures a Latest store.
type Option func(*Latest)

// OnEvict registers fn to be called, outside the lock, for every package
// removed by Evict.
func OnEvict(fn func(Entry)) Option {
	return func(s *Latest) { s.onEvict = fn }
}

// New creates a Latest store whose entries expire after ttl of silence.
func New(ttl time.Duration, opts ...Option) *Latest {
	s := &Latest{
		ttl:  ttl,
		now:  time.Now,
		pkgs: make(map[string]*Entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put records rec as the newest reading of its package. rec must not be
// modified afterwards.
func (s *Latest) Put(rec *types.Record) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pkgs[rec.PackageID]
	if !ok {
		e = &Entry{FirstSeen: now}
		s.pkgs[rec.PackageID] = e
	}
	e.Record = rec
	e.LastSeen = now
	e.Records++
}

// Get returns a copy of the entry for id, including one past its TTL that
// has not been evicted yet.
func (s *Latest) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.pkgs[id]; ok {
		return *e, true
	}
	return Entry{}, false
}

// List returns copies of the entries heard from within the TTL, ordered by
// package id.
func (s *Latest) List() []Entry {
	cutoff := s.now().Add(-s.ttl)

	s.mu.RLock()
	out := make([]Entry, 0, len(s.pkgs))
	for _, e := range s.pkgs {
		if e.LastSeen.After(cutoff) {
			out = append(out, *e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Record.PackageID, b.Record.PackageID)
	})
	return out
}

// Count returns the number of packages held, expired ones included.
func (s *Latest) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pkgs)
}

// Evict drops packages last heard from at or before now-TTL and returns how
// many went.
func (s *Latest) Evict(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	var gone []Entry
	s.mu.Lock()
	for id, e := range s.pkgs {
		if !e.LastSeen.After(cutoff) {
			gone = append(gone, *e)
			delete(s.pkgs, id)
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, e := range gone {
			s.onEvict(e)
		}
	}
	return len(gone)
}

// Run calls Evict every TTL/2, but no more than once a second, until ctx is
// cancelled.
func (s *Latest) Run(ctx context.Context) {
	every := max(s.ttl/2, time.Second)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: dropped silent packages", "count", n, "ttl", s.ttl)
			}
		}
	}
}
