// Package wrangler owns the record collection and wires the extraction
// engine, reconciliation ledger, dirty tracker, and sync driver together.
// It is the surface the (out-of-scope) UI layer talks to.
package wrangler

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/dirty"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/ledger"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/rules"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/store"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/syncer"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

// ErrRecordNotFound is returned when an operation names an unknown record.
var ErrRecordNotFound = eris.New("wrangler: record not found")

// Patch is a partial annotation update. Scalar keys take strings; set
// keys accept a string (optionally comma-separated), a []string, or a
// model.StringSet — normalization happens here, at the boundary, so the
// engine never type-sniffs.
type Patch map[model.Key]any

// Conflicts is a snapshot of both conflict ledgers.
type Conflicts struct {
	Local     map[string]model.StringSet `json:"local"`
	Canonical map[string]model.StringSet `json:"canonical"`
}

// Wrangler is the record store. Construct one per independent collection;
// all collaborators are injected at construction and owned for life.
type Wrangler struct {
	mu sync.RWMutex

	records     []*model.Record
	index       map[string]*model.Record
	sourceLabel string

	dirty  *dirty.Set
	ledger *ledger.Ledger
	engine *rules.Engine
	driver *syncer.Driver
	acks   *ackStore

	store  store.Store
	client dsa.Client

	events     *registry[Event]
	syncEvents *registry[syncer.Progress]
}

// New builds a wrangler. client may be nil for offline (file-only) use;
// st may be nil to disable persistence.
func New(client dsa.Client, st store.Store, syncCfg syncer.Config) *Wrangler {
	w := &Wrangler{
		index:      make(map[string]*model.Record),
		dirty:      dirty.NewSet(),
		acks:       newAckStore(),
		store:      st,
		client:     client,
		events:     newRegistry[Event](),
		syncEvents: newRegistry[syncer.Progress](),
	}
	w.ledger = ledger.New(w.dirty)
	w.engine = rules.NewEngine(w.dirty)

	cfg := syncCfg
	userCB := cfg.OnProgress
	cfg.OnProgress = func(p syncer.Progress) {
		w.syncEvents.notify(p)
		if userCB != nil {
			userCB(p)
		}
	}
	w.driver = syncer.New(client, w.dirty, w.acks, cfg)
	return w
}

// Subscribe registers a listener for general state changes. The returned
// function unsubscribes.
func (w *Wrangler) Subscribe(fn func(Event)) func() {
	return w.events.subscribe(fn)
}

// SubscribeSync registers a listener for sync progress events only.
func (w *Wrangler) SubscribeSync(fn func(syncer.Progress)) func() {
	return w.syncEvents.subscribe(fn)
}

// Records returns deep copies of the current record collection. Callers can
// read or encode them after the lock is released without racing against
// concurrent mutations.
func (w *Wrangler) Records() []*model.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*model.Record, len(w.records))
	for i, rec := range w.records {
		out[i] = rec.Clone()
	}
	return out
}

// Record returns a deep copy of one record by ID.
func (w *Wrangler) Record(id string) (*model.Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.index[id]
	if !ok {
		return nil, eris.Wrapf(ErrRecordNotFound, "%s", id)
	}
	return rec.Clone(), nil
}

// LinkItem maps a record to its archive item so the sync driver can
// transmit it.
func (w *Wrangler) LinkItem(recordID, itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.index[recordID]
	if !ok {
		return eris.Wrapf(ErrRecordNotFound, "%s", recordID)
	}
	rec.ItemID = itemID
	return nil
}

// DirtyCount returns the number of records with unsynced changes.
func (w *Wrangler) DirtyCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dirty.Len()
}

// IsDirty reports whether the record has unsynced changes.
func (w *Wrangler) IsDirty(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dirty.Contains(id)
}

// MutateAnnotation applies a partial annotation update from the given
// source. Manual writes always win; automated sources are gated by
// provenance precedence per key (losing keys are skipped, not errors).
// Returns the number of keys actually changed.
func (w *Wrangler) MutateAnnotation(id string, patch Patch, source model.Source) (int, error) {
	if !source.Valid() {
		return 0, eris.Errorf("wrangler: unknown source %q", source)
	}

	w.mu.Lock()
	rec, ok := w.index[id]
	if !ok {
		w.mu.Unlock()
		return 0, eris.Wrapf(ErrRecordNotFound, "%s", id)
	}

	changed := 0
	for key, raw := range patch {
		if isSetKey(key) {
			refs, err := normalizeRefs(raw)
			if err != nil {
				w.mu.Unlock()
				return changed, eris.Wrapf(err, "wrangler: patch key %s", key)
			}
			if source != model.SourceManual && !rec.Annotation.CanOverwrite(key, source) {
				continue
			}
			if rec.SetRefs(key, refs, source) {
				changed++
			}
			continue
		}

		value, ok := raw.(string)
		if !ok {
			w.mu.Unlock()
			return changed, eris.Errorf("wrangler: patch key %s: want string, got %T", key, raw)
		}
		if source != model.SourceManual && !rec.Annotation.CanOverwrite(key, source) {
			continue
		}
		if rec.SetField(key, value, source) {
			changed++
		}
	}

	if changed > 0 {
		w.dirty.Mark(rec.ID)
	}
	w.mu.Unlock()

	if changed > 0 {
		w.events.notify(Event{Kind: EventAnnotationChanged, RecordID: id})
	}
	return changed, nil
}

// ApplyRules runs the extraction rule set over every record, then shim
// normalization, then rebuilds the ledger. Returns the number of records
// changed.
func (w *Wrangler) ApplyRules(rs *rules.RuleSet, force bool) int {
	w.mu.Lock()
	changed := 0
	for _, rec := range w.records {
		c := w.engine.Apply(rec, rs, force)
		if w.engine.ApplyShims(rec, rs) {
			c = true
		}
		if c {
			changed++
		}
	}
	w.ledger.RebuildFromRecords(w.records)
	w.mu.Unlock()

	if changed > 0 {
		w.events.notify(Event{Kind: EventAnnotationChanged})
	}
	w.events.notify(Event{Kind: EventLedgerRebuilt})

	zap.L().Info("applied extraction rules",
		zap.Int("records", changed),
		zap.Bool("force", force),
	)
	return changed
}

// RebuildLedger rescans all records into the identifier mapping and
// conflict ledgers.
func (w *Wrangler) RebuildLedger() {
	w.mu.Lock()
	w.ledger.RebuildFromRecords(w.records)
	w.mu.Unlock()
	w.events.notify(Event{Kind: EventLedgerRebuilt})
}

// Conflicts returns a copy of both conflict ledgers.
func (w *Wrangler) Conflicts() Conflicts {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := Conflicts{
		Local:     make(map[string]model.StringSet, len(w.ledger.LocalConflicts)),
		Canonical: make(map[string]model.StringSet, len(w.ledger.CanonicalConflicts)),
	}
	for k, v := range w.ledger.LocalConflicts {
		out.Local[k] = append(model.StringSet(nil), v...)
	}
	for k, v := range w.ledger.CanonicalConflicts {
		out.Canonical[k] = append(model.StringSet(nil), v...)
	}
	return out
}

// Mapping returns a copy of the local-to-canonical identifier mapping.
func (w *Wrangler) Mapping() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]string, len(w.ledger.Mapping))
	for k, v := range w.ledger.Mapping {
		out[k] = v
	}
	return out
}

// Assign maps a local case ID to a canonical ID and propagates it to every
// matching record.
func (w *Wrangler) Assign(localCaseID, canonicalCaseID string) int {
	w.mu.Lock()
	n := w.ledger.Assign(localCaseID, canonicalCaseID, w.records)
	w.mu.Unlock()
	w.events.notify(Event{Kind: EventAnnotationChanged})
	return n
}

// ResolveLocalConflict forces all records with the local ID to the chosen
// canonical ID and clears the conflict.
func (w *Wrangler) ResolveLocalConflict(localCaseID, chosenCanonicalID string) int {
	w.mu.Lock()
	n := w.ledger.ResolveLocalConflict(localCaseID, chosenCanonicalID, w.records)
	w.mu.Unlock()
	w.events.notify(Event{Kind: EventConflictResolved})
	return n
}

// ClearLocalConflict removes the canonical assignment from all records with
// the local ID and drops the conflict.
func (w *Wrangler) ClearLocalConflict(localCaseID string) int {
	w.mu.Lock()
	n := w.ledger.ClearLocalConflict(localCaseID, w.records)
	w.mu.Unlock()
	w.events.notify(Event{Kind: EventConflictResolved})
	return n
}

// ResolveCanonicalConflict keeps the canonical ID only on records with the
// chosen local ID.
func (w *Wrangler) ResolveCanonicalConflict(canonicalCaseID, chosenLocalID string) int {
	w.mu.Lock()
	n := w.ledger.ResolveCanonicalConflict(canonicalCaseID, chosenLocalID, w.records)
	w.mu.Unlock()
	w.events.notify(Event{Kind: EventConflictResolved})
	return n
}

// StartSync begins a background sync job over the currently dirty records.
// It fails fast with syncer.ErrAlreadyRunning when a job is in flight.
// The driver works on deep copies of the dirty records: mutating a
// record's annotation while its update is in flight is a documented
// last-writer-wins race, not a crash.
func (w *Wrangler) StartSync(ctx context.Context) error {
	if err := w.StartSyncAcquire(); err != nil {
		return err
	}

	w.events.notify(Event{Kind: EventSyncStateChanged})
	go func() {
		w.driver.Process(ctx)
		w.events.notify(Event{Kind: EventSyncStateChanged})
		if w.store != nil {
			if err := w.SaveSnapshot(context.WithoutCancel(ctx)); err != nil {
				zap.L().Error("save snapshot after sync", zap.Error(err))
			}
		}
	}()
	return nil
}

// RunSync executes a sync job synchronously and returns its report.
func (w *Wrangler) RunSync(ctx context.Context) (*syncer.Report, error) {
	if err := w.StartSyncAcquire(); err != nil {
		return nil, err
	}
	report := w.driver.Process(ctx)
	w.events.notify(Event{Kind: EventSyncStateChanged})
	if w.store != nil {
		if err := w.SaveSnapshot(ctx); err != nil {
			zap.L().Error("save snapshot after sync", zap.Error(err))
		}
	}
	return report, nil
}

// StartSyncAcquire claims the driver for a job over the dirty records
// without processing it.
func (w *Wrangler) StartSyncAcquire() error {
	w.mu.RLock()
	clones := make([]*model.Record, 0, w.dirty.Len())
	for _, rec := range w.records {
		if w.dirty.Contains(rec.ID) {
			clones = append(clones, rec.Clone())
		}
	}
	w.mu.RUnlock()
	return w.driver.Acquire(clones)
}

// CancelSync requests cooperative cancellation of the running job.
func (w *Wrangler) CancelSync() {
	w.driver.Cancel()
	w.events.notify(Event{Kind: EventSyncStateChanged})
}

// SyncStatus returns the current job progress. Observing a terminal state
// resets the driver to idle; the terminal report stays available via
// SyncReport until the next job starts.
func (w *Wrangler) SyncStatus() syncer.Progress {
	p := w.driver.Progress()
	if p.Status.Terminal() {
		w.driver.Observe()
	}
	return p
}

// SyncReport returns the last terminal job summary, or nil.
func (w *Wrangler) SyncReport() *syncer.Report {
	return w.driver.Report()
}

// SaveSnapshot persists the full state as one versioned snapshot.
func (w *Wrangler) SaveSnapshot(ctx context.Context) error {
	if w.store == nil {
		return eris.New("wrangler: no store configured")
	}

	// The store marshals outside the lock, so it gets clones too.
	w.mu.RLock()
	records := make([]*model.Record, len(w.records))
	for i, rec := range w.records {
		records[i] = rec.Clone()
	}
	snap := &store.Snapshot{
		SourceLabel:        w.sourceLabel,
		Records:            records,
		DirtyIDs:           w.dirty.IDs(),
		Mapping:            w.mappingLocked(),
		LocalConflicts:     copySetMap(w.ledger.LocalConflicts),
		CanonicalConflicts: copySetMap(w.ledger.CanonicalConflicts),
		Acknowledged:       w.acks.snapshot(),
	}
	w.mu.RUnlock()

	return w.store.SaveSnapshot(ctx, snap)
}

// LoadSnapshot restores state from the persisted snapshot, if any.
// Returns true when a snapshot was found.
func (w *Wrangler) LoadSnapshot(ctx context.Context) (bool, error) {
	if w.store == nil {
		return false, eris.New("wrangler: no store configured")
	}
	snap, err := w.store.LoadSnapshot(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}

	w.mu.Lock()
	w.records = snap.Records
	w.index = make(map[string]*model.Record, len(snap.Records))
	for _, rec := range snap.Records {
		w.index[rec.ID] = rec
	}
	w.sourceLabel = snap.SourceLabel
	w.dirty.Replace(snap.DirtyIDs)
	w.ledger.Restore(snap.Mapping, snap.LocalConflicts, snap.CanonicalConflicts)
	w.acks.replace(snap.Acknowledged)
	w.mu.Unlock()

	w.events.notify(Event{Kind: EventRecordsLoaded})
	zap.L().Info("loaded snapshot",
		zap.Int("records", len(snap.Records)),
		zap.Int("dirty", len(snap.DirtyIDs)),
	)
	return true, nil
}

// mappingLocked returns a copy of the mapping; callers must hold w.mu.
func (w *Wrangler) mappingLocked() map[string]string {
	out := make(map[string]string, len(w.ledger.Mapping))
	for k, v := range w.ledger.Mapping {
		out[k] = v
	}
	return out
}

func copySetMap(m map[string]model.StringSet) map[string]model.StringSet {
	out := make(map[string]model.StringSet, len(m))
	for k, v := range m {
		out[k] = append(model.StringSet(nil), v...)
	}
	return out
}

func isSetKey(key model.Key) bool {
	for _, k := range model.SetKeys {
		if k == key {
			return true
		}
	}
	return false
}

// normalizeRefs coerces the accepted patch shapes into a StringSet.
func normalizeRefs(raw any) (model.StringSet, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case model.StringSet:
		return model.NewStringSet(v...), nil
	case []string:
		return model.NewStringSet(v...), nil
	case []any:
		strs := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, eris.Errorf("want string element, got %T", e)
			}
			strs = append(strs, s)
		}
		return model.NewStringSet(strs...), nil
	case string:
		return model.ParseStringSet(v), nil
	default:
		return nil, eris.Errorf("want string, []string, or set, got %T", raw)
	}
}
