package wrangler

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/fetcher"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

// nameColumns are the header spellings accepted for the display-name
// column, tried in order. Source spreadsheets are inconsistent about this.
var nameColumns = []string{"fileName", "FileName", "filename", "file_name", "file name"}

// LoadFromRows replaces the collection with records built from metadata
// file rows. Loading a new source clears records, the dirty set, the
// ledger, and acknowledgements.
func (w *Wrangler) LoadFromRows(sourceLabel string, rows []fetcher.Row) (int, error) {
	nameCol := ""
	if len(rows) > 0 {
		for _, cand := range nameColumns {
			if _, ok := rows[0][cand]; ok {
				nameCol = cand
				break
			}
		}
		if nameCol == "" {
			return 0, eris.New("wrangler: no filename column found in source rows")
		}
	}

	w.mu.Lock()
	w.reset(sourceLabel)
	for _, row := range rows {
		name := row[nameCol]
		if name == "" {
			continue
		}
		rec := model.NewRecord(sourceLabel, name, row)
		if _, dup := w.index[rec.ID]; dup {
			zap.L().Warn("duplicate row skipped", zap.String("name", name))
			continue
		}
		w.records = append(w.records, rec)
		w.index[rec.ID] = rec
	}
	n := len(w.records)
	w.mu.Unlock()

	w.events.notify(Event{Kind: EventRecordsLoaded})
	zap.L().Info("loaded records from file",
		zap.String("source", sourceLabel),
		zap.Int("records", n),
	)
	return n, nil
}

// LoadFromArchive replaces the collection with records built from the
// archive's item listing. Items that already carry a bdsaLocal annotation
// ingest it with remote_archive provenance and register it as the
// last-acknowledged value, so unmodified records start clean rather than
// dirty.
func (w *Wrangler) LoadFromArchive(ctx context.Context, resourceID, resourceType string) (int, error) {
	if w.client == nil {
		return 0, eris.New("wrangler: no archive client configured")
	}

	items, err := w.client.ListItems(ctx, resourceID, resourceType)
	if err != nil {
		return 0, eris.Wrapf(err, "wrangler: list items of %s %s", resourceType, resourceID)
	}

	w.mu.Lock()
	w.reset("dsa:" + resourceID)
	annotated := 0
	for _, item := range items {
		rec := &model.Record{
			ID:         item.ID,
			ItemID:     item.ID,
			Name:       item.Name,
			RawFields:  map[string]string{"folderId": item.FolderID},
			Annotation: model.NewAnnotation(),
		}

		local, annErr := item.LocalAnnotation()
		if annErr != nil {
			zap.L().Warn("ignoring malformed archive annotation",
				zap.String("item", item.ID),
				zap.Error(annErr),
			)
		} else if local != nil {
			ingestRemote(rec, local)
			w.acks.Acknowledge(rec.ID, rec.Annotation.Clone())
			annotated++
		}

		w.records = append(w.records, rec)
		w.index[rec.ID] = rec
	}
	w.ledger.RebuildFromRecords(w.records)
	n := len(w.records)
	w.mu.Unlock()

	w.events.notify(Event{Kind: EventRecordsLoaded})
	w.events.notify(Event{Kind: EventLedgerRebuilt})
	zap.L().Info("loaded records from archive",
		zap.String("resource", resourceID),
		zap.Int("records", n),
		zap.Int("annotated", annotated),
	)
	return n, nil
}

// reset clears all collection state; callers must hold w.mu.
func (w *Wrangler) reset(sourceLabel string) {
	w.records = nil
	w.index = make(map[string]*model.Record)
	w.sourceLabel = sourceLabel
	w.dirty.ClearAll()
	w.acks.clear()
	w.ledger.RebuildFromRecords(nil)
}

// ingestRemote writes an archive-held annotation onto a fresh record with
// remote_archive provenance. The record is new, so every field is unset
// and the precedence check is vacuous; it stays here so the invariant
// holds if ingestion is ever re-run over an existing record.
func ingestRemote(rec *model.Record, local *dsa.LocalAnnotation) {
	scalar := map[model.Key]string{
		model.KeyLocalCaseID:     local.LocalCaseID,
		model.KeyLocalStainID:    local.LocalStainID,
		model.KeyLocalRegionID:   local.LocalRegionID,
		model.KeyCanonicalCaseID: local.CaseID,
	}
	for key, value := range scalar {
		if value == "" {
			continue
		}
		if rec.Annotation.CanOverwrite(key, model.SourceRemoteArchive) {
			rec.SetField(key, value, model.SourceRemoteArchive)
		}
	}

	refs := map[model.Key][]string{
		model.KeyStainProtocolRefs:  local.StainProtocol,
		model.KeyRegionProtocolRefs: local.RegionProtocol,
	}
	for key, values := range refs {
		set := model.NewStringSet(values...)
		if set.Empty() {
			continue
		}
		if rec.Annotation.CanOverwrite(key, model.SourceRemoteArchive) {
			rec.SetRefs(key, set, model.SourceRemoteArchive)
		}
	}
}
