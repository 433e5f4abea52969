// Package store persists the wrangler's state as a single versioned
// snapshot in durable storage, keyed by a fixed namespace.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

// Namespace is the fixed key the snapshot is stored under.
const Namespace = "bdsa-wrangler"

// SnapshotVersion is the current snapshot layout version. A persisted
// snapshot with any other version fails to load.
const SnapshotVersion = 1

// ErrVersionMismatch is returned when a persisted snapshot carries an
// unknown layout version.
var ErrVersionMismatch = eris.New("store: snapshot version mismatch")

// Snapshot is the full persisted state: the record collection plus the
// auxiliary maps, reloaded verbatim on process start.
type Snapshot struct {
	Version            int                          `json:"version"`
	SavedAt            time.Time                    `json:"savedAt"`
	SourceLabel        string                       `json:"sourceLabel,omitempty"`
	Records            []*model.Record              `json:"records"`
	DirtyIDs           []string                     `json:"dirtyIds"`
	Mapping            map[string]string            `json:"mapping"`
	LocalConflicts     map[string]model.StringSet   `json:"localConflicts"`
	CanonicalConflicts map[string]model.StringSet   `json:"canonicalConflicts"`
	Acknowledged       map[string]*model.Annotation `json:"acknowledged"`
}

// Store is the snapshot persistence interface.
type Store interface {
	// SaveSnapshot overwrites the stored snapshot.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the stored snapshot, or nil when none exists.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// Migrate creates the storage schema if needed.
	Migrate(ctx context.Context) error

	Close() error
}
