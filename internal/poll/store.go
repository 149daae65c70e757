package poll

import (
	"sync"
	"time"

	"github.com/joshp123/nibebridge/internal/uplink"
)

type record struct {
	param *uplink.Parameter
	fresh time.Time
}

// Store caches parameter snapshots for one system, keyed by parameter id.
// A nil entry means "wanted but not yet fetched", which lets consumers tell
// "still loading" apart from "never asked".
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	records map[uplink.ParameterID]record
}

func NewStore() *Store {
	return &Store{
		now:     time.Now,
		records: make(map[uplink.ParameterID]record),
	}
}

// Get returns the last known snapshot, or nil if never observed. No side
// effects.
func (s *Store) Get(id uplink.ParameterID) *uplink.Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].param
}

// Set overwrites the cached snapshot wholesale. Snapshots are never
// field-merged: a partial vendor response is indistinguishable from a full
// one, and merging would present stale sub-fields as fresh.
//
// A freshFor > 0 marks the value as pre-loaded so the coordinator does not
// immediately re-request it within the window.
func (s *Store) Set(id uplink.ParameterID, p *uplink.Parameter, freshFor time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record{param: p}
	if p != nil && freshFor > 0 {
		rec.fresh = s.now().Add(freshFor)
	}
	s.records[id] = rec
}

// Want ensures each id has at least a nil placeholder entry.
func (s *Store) Want(ids []uplink.ParameterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			s.records[id] = record{}
		}
	}
}

// Fresh reports whether id holds a value inside its pre-load window. A nil
// placeholder is never fresh.
func (s *Store) Fresh(id uplink.ParameterID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return ok && rec.param != nil && s.now().Before(rec.fresh)
}

// Prune drops entries that no live subscriber wants anymore, keeping values
// that were just pushed in by a status fetch until their window lapses.
func (s *Store) Prune(wanted map[uplink.ParameterID]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, rec := range s.records {
		if _, ok := wanted[id]; ok {
			continue
		}
		if rec.param != nil && now.Before(rec.fresh) {
			continue
		}
		delete(s.records, id)
	}
}

// Len reports the number of cached entries, placeholders included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
