package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "wrangler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	rec := model.NewRecord("inventory.csv", "05-662-Temporal_AT8.czi", map[string]string{
		"file name": "05-662-Temporal_AT8.czi",
	})
	rec.ItemID = "item-1"
	rec.SetField(model.KeyLocalCaseID, "05-662", model.SourcePatternExtraction)
	rec.SetRefs(model.KeyStainProtocolRefs, model.NewStringSet("AT8"), model.SourceManual)

	return &Snapshot{
		SourceLabel: "inventory.csv",
		Records:     []*model.Record{rec},
		DirtyIDs:    []string{rec.ID},
		Mapping:     map[string]string{"05-662": "BDSA-001"},
		LocalConflicts: map[string]model.StringSet{
			"06-100": {"BDSA-002", "BDSA-003"},
		},
		CanonicalConflicts: map[string]model.StringSet{},
		Acknowledged: map[string]*model.Annotation{
			rec.ID: rec.Annotation.Clone(),
		},
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	snap := sampleSnapshot(t)
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, SnapshotVersion, loaded.Version)
	assert.Equal(t, "inventory.csv", loaded.SourceLabel)
	require.Len(t, loaded.Records, 1)

	rec := loaded.Records[0]
	assert.Equal(t, snap.Records[0].ID, rec.ID)
	assert.Equal(t, "item-1", rec.ItemID)
	assert.Equal(t, "05-662", rec.Annotation.Value(model.KeyLocalCaseID))
	assert.Equal(t, model.SourcePatternExtraction, rec.Annotation.SourceOf(model.KeyLocalCaseID))
	assert.Equal(t, model.StringSet{"AT8"}, rec.Annotation.Refs(model.KeyStainProtocolRefs))

	assert.Equal(t, snap.DirtyIDs, loaded.DirtyIDs)
	assert.Equal(t, snap.Mapping, loaded.Mapping)
	assert.Equal(t, model.StringSet{"BDSA-002", "BDSA-003"}, loaded.LocalConflicts["06-100"])
	require.Contains(t, loaded.Acknowledged, rec.ID)
	assert.True(t, loaded.Acknowledged[rec.ID].Equal(rec.Annotation))
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot(t)))

	second := sampleSnapshot(t)
	second.SourceLabel = "revised.csv"
	second.DirtyIDs = nil
	require.NoError(t, s.SaveSnapshot(ctx, second))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "revised.csv", loaded.SourceLabel)
	assert.Empty(t, loaded.DirtyIDs)
}

func TestSQLiteStore_LoadAbsent(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)

	loaded, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLiteStore_VersionMismatch(t *testing.T) {
	t.Parallel()

	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot(t)))
	_, err := s.db.ExecContext(ctx, `UPDATE snapshots SET version = 999 WHERE namespace = ?`, Namespace)
	require.NoError(t, err)

	_, err = s.LoadSnapshot(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}
