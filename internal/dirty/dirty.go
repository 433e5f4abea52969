// Package dirty tracks which records carry unsynced annotation changes.
//
// The tracker is deliberately dumb: it is the only authority the sync driver
// consults when deciding what to transmit, which keeps "what changed"
// decoupled from "how to annotate".
package dirty

import (
	"sort"
	"sync"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

// Set holds the IDs of records with unsynced local mutations. The sync
// driver's batch workers clear IDs concurrently, so access is guarded.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSet returns an empty dirty set.
func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Mark inserts id into the set.
func (s *Set) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Clear removes id from the set.
func (s *Set) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// ClearAll empties the set.
func (s *Set) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// Contains reports whether id is marked dirty.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of dirty IDs.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns the dirty IDs in sorted order.
func (s *Set) IDs() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Filter returns the subset of records whose ID is marked dirty, preserving
// input order.
func (s *Set) Filter(records []*model.Record) []*model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Record
	for _, r := range records {
		if _, ok := s.ids[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Replace resets the set to exactly the given IDs, used when reloading a
// persisted snapshot.
func (s *Set) Replace(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}
