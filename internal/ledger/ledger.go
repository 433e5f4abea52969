// Package ledger maintains the local-to-canonical case identifier mapping
// and its conflict ledgers.
//
// Conflicts are never errors: an ambiguous assignment is first-class,
// queryable state that persists until an operator resolves it.
package ledger

import (
	"sort"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

// Tracker receives dirty marks for records mutated by the ledger.
type Tracker interface {
	Mark(id string)
}

// Ledger holds the identifier mapping and both conflict classes. The two
// classes are tracked independently; a pair may participate in both.
type Ledger struct {
	tracker Tracker

	// Mapping is localCaseId -> canonicalCaseId, first occurrence wins.
	Mapping map[string]string `json:"mapping"`

	// LocalConflicts records local IDs assigned more than one canonical ID.
	LocalConflicts map[string]model.StringSet `json:"localConflicts"`

	// CanonicalConflicts records canonical IDs seen under more than one
	// local ID.
	CanonicalConflicts map[string]model.StringSet `json:"canonicalConflicts"`
}

// New returns an empty ledger reporting mutations to tracker.
func New(tracker Tracker) *Ledger {
	l := &Ledger{tracker: tracker}
	l.reset()
	return l
}

func (l *Ledger) reset() {
	l.Mapping = make(map[string]string)
	l.LocalConflicts = make(map[string]model.StringSet)
	l.CanonicalConflicts = make(map[string]model.StringSet)
}

// Restore replaces the ledger contents with a persisted snapshot.
func (l *Ledger) Restore(mapping map[string]string, local, canonical map[string]model.StringSet) {
	l.reset()
	for k, v := range mapping {
		l.Mapping[k] = v
	}
	for k, v := range local {
		l.LocalConflicts[k] = v
	}
	for k, v := range canonical {
		l.CanonicalConflicts[k] = v
	}
}

// RebuildFromRecords rescans every record's (localCaseId, canonicalCaseId)
// pair. The first occurrence of a local ID establishes its mapping; later
// divergent pairs are recorded as local conflicts with the mapping left at
// the first-seen value. A canonical ID observed under more than one local ID
// is recorded as a canonical conflict.
func (l *Ledger) RebuildFromRecords(records []*model.Record) {
	l.reset()

	canonicalSeen := make(map[string]model.StringSet)

	for _, rec := range records {
		local := rec.Annotation.Value(model.KeyLocalCaseID)
		canonical := rec.Annotation.Value(model.KeyCanonicalCaseID)
		if local == "" || canonical == "" {
			continue
		}

		if prior, ok := l.Mapping[local]; !ok {
			l.Mapping[local] = canonical
		} else if prior != canonical {
			l.LocalConflicts[local] = l.LocalConflicts[local].Add(prior).Add(canonical)
		}

		canonicalSeen[canonical] = canonicalSeen[canonical].Add(local)
	}

	for canonical, locals := range canonicalSeen {
		if len(locals) > 1 {
			l.CanonicalConflicts[canonical] = locals
		}
	}
}

// Assign sets the mapping for localCaseID and propagates canonicalCaseID to
// every matching record via a case_id_mapping write, marking each dirty.
func (l *Ledger) Assign(localCaseID, canonicalCaseID string, records []*model.Record) int {
	l.Mapping[localCaseID] = canonicalCaseID
	return l.propagate(localCaseID, canonicalCaseID, records, nil)
}

// ResolveLocalConflict forces every record with the given local ID to the
// chosen canonical ID, removes the conflict entry, and updates the mapping.
func (l *Ledger) ResolveLocalConflict(localCaseID, chosenCanonicalID string, records []*model.Record) int {
	n := l.propagate(localCaseID, chosenCanonicalID, records, nil)
	l.Mapping[localCaseID] = chosenCanonicalID
	l.dropLocalConflict(localCaseID, chosenCanonicalID)
	return n
}

// ClearLocalConflict removes the canonical ID from every matching record and
// drops both the mapping and the conflict entry. Used when no resolution is
// appropriate.
func (l *Ledger) ClearLocalConflict(localCaseID string, records []*model.Record) int {
	n := l.propagate(localCaseID, "", records, nil)
	delete(l.Mapping, localCaseID)
	l.dropLocalConflict(localCaseID, "")
	return n
}

// ResolveCanonicalConflict keeps canonicalCaseID only on records whose local
// ID is the chosen one, clearing it from every other local ID in the
// conflict set, then drops the conflict entry.
func (l *Ledger) ResolveCanonicalConflict(canonicalCaseID, chosenLocalID string, records []*model.Record) int {
	losers := make(map[string]bool)
	for _, local := range l.CanonicalConflicts[canonicalCaseID] {
		if local != chosenLocalID {
			losers[local] = true
		}
	}

	n := 0
	for local := range losers {
		n += l.propagate(local, "", records, func(rec *model.Record) bool {
			return rec.Annotation.Value(model.KeyCanonicalCaseID) == canonicalCaseID
		})
		if l.Mapping[local] == canonicalCaseID {
			delete(l.Mapping, local)
		}
	}
	delete(l.CanonicalConflicts, canonicalCaseID)
	return n
}

// propagate writes canonical (or clears it when empty) onto every record
// matching localCaseID and the optional extra filter, marking mutated
// records dirty. Returns the number of records changed.
func (l *Ledger) propagate(localCaseID, canonical string, records []*model.Record, filter func(*model.Record) bool) int {
	n := 0
	for _, rec := range records {
		if rec.Annotation.Value(model.KeyLocalCaseID) != localCaseID {
			continue
		}
		if filter != nil && !filter(rec) {
			continue
		}
		if rec.SetField(model.KeyCanonicalCaseID, canonical, model.SourceCaseIDMapping) {
			n++
			if l.tracker != nil {
				l.tracker.Mark(rec.ID)
			}
		}
	}
	return n
}

// dropLocalConflict removes the local conflict entry and prunes the losing
// pairs from the canonical side so the two ledgers stay symmetric. The
// chosen canonical, if any, keeps its entry: the record still claims it,
// so any ambiguity with other local IDs remains live.
func (l *Ledger) dropLocalConflict(localCaseID, keepCanonical string) {
	for _, canonical := range l.LocalConflicts[localCaseID] {
		if canonical == keepCanonical {
			continue
		}
		set := l.CanonicalConflicts[canonical]
		if set.Empty() {
			continue
		}
		var kept model.StringSet
		for _, local := range set {
			if local != localCaseID {
				kept = kept.Add(local)
			}
		}
		if len(kept) > 1 {
			l.CanonicalConflicts[canonical] = kept
		} else {
			delete(l.CanonicalConflicts, canonical)
		}
	}
	delete(l.LocalConflicts, localCaseID)
}

// LocalConflictIDs returns the conflicted local IDs in sorted order.
func (l *Ledger) LocalConflictIDs() []string {
	out := make([]string, 0, len(l.LocalConflicts))
	for id := range l.LocalConflicts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CanonicalConflictIDs returns the conflicted canonical IDs in sorted order.
func (l *Ledger) CanonicalConflictIDs() []string {
	out := make([]string, 0, len(l.CanonicalConflicts))
	for id := range l.CanonicalConflicts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
