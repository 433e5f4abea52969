package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/dirty"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

func record(t *testing.T, name, local, canonical string) *model.Record {
	t.Helper()
	rec := model.NewRecord("test.csv", name, nil)
	if local != "" {
		rec.SetField(model.KeyLocalCaseID, local, model.SourceColumnMapping)
	}
	if canonical != "" {
		rec.SetField(model.KeyCanonicalCaseID, canonical, model.SourceCaseIDMapping)
	}
	return rec
}

func TestRebuild_FirstSeenWins(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-001"),
		record(t, "c.svs", "06-100", "BDSA-002"),
		record(t, "d.svs", "07-001", ""),
	}

	l.RebuildFromRecords(records)

	assert.Equal(t, map[string]string{"05-662": "BDSA-001", "06-100": "BDSA-002"}, l.Mapping)
	assert.Empty(t, l.LocalConflicts)
	assert.Empty(t, l.CanonicalConflicts)
}

func TestRebuild_DetectsBothConflictClasses(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		// One local ID claiming two canonical IDs.
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-002"),
		// Two local IDs claiming one canonical ID.
		record(t, "c.svs", "06-100", "BDSA-003"),
		record(t, "d.svs", "06-200", "BDSA-003"),
	}

	l.RebuildFromRecords(records)

	// Mapping stays at the first-seen value.
	assert.Equal(t, "BDSA-001", l.Mapping["05-662"])
	require.Contains(t, l.LocalConflicts, "05-662")
	assert.ElementsMatch(t, []string{"BDSA-001", "BDSA-002"}, []string(l.LocalConflicts["05-662"]))

	require.Contains(t, l.CanonicalConflicts, "BDSA-003")
	assert.ElementsMatch(t, []string{"06-100", "06-200"}, []string(l.CanonicalConflicts["BDSA-003"]))
}

func TestRebuild_SamePairBothClasses(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-002"),
		record(t, "c.svs", "06-100", "BDSA-002"),
	}

	l.RebuildFromRecords(records)

	assert.Equal(t, []string{"05-662"}, l.LocalConflictIDs())
	assert.Equal(t, []string{"BDSA-002"}, l.CanonicalConflictIDs())
}

func TestAssign_PropagatesAndMarksDirty(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	l := New(tracker)
	records := []*model.Record{
		record(t, "a.svs", "05-662", ""),
		record(t, "b.svs", "05-662", ""),
		record(t, "c.svs", "06-100", ""),
	}

	n := l.Assign("05-662", "BDSA-001", records)

	assert.Equal(t, 2, n)
	assert.Equal(t, "BDSA-001", l.Mapping["05-662"])
	for _, rec := range records[:2] {
		assert.Equal(t, "BDSA-001", rec.Annotation.Value(model.KeyCanonicalCaseID))
		assert.Equal(t, model.SourceCaseIDMapping, rec.Annotation.SourceOf(model.KeyCanonicalCaseID))
		assert.True(t, tracker.Contains(rec.ID))
	}
	assert.False(t, records[2].Annotation.IsSet(model.KeyCanonicalCaseID))
}

func TestResolveLocalConflict(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	l := New(tracker)
	records := []*model.Record{
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-002"),
	}
	l.RebuildFromRecords(records)
	require.Contains(t, l.LocalConflicts, "05-662")

	n := l.ResolveLocalConflict("05-662", "BDSA-002", records)

	assert.Equal(t, 1, n)
	assert.Equal(t, "BDSA-002", l.Mapping["05-662"])
	assert.NotContains(t, l.LocalConflicts, "05-662")
	for _, rec := range records {
		assert.Equal(t, "BDSA-002", rec.Annotation.Value(model.KeyCanonicalCaseID))
	}
}

func TestClearLocalConflict(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-002"),
	}
	l.RebuildFromRecords(records)

	n := l.ClearLocalConflict("05-662", records)

	assert.Equal(t, 2, n)
	assert.NotContains(t, l.Mapping, "05-662")
	assert.NotContains(t, l.LocalConflicts, "05-662")
	for _, rec := range records {
		assert.False(t, rec.Annotation.IsSet(model.KeyCanonicalCaseID))
	}
}

func TestResolveCanonicalConflict(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		record(t, "a.svs", "06-100", "BDSA-003"),
		record(t, "b.svs", "06-200", "BDSA-003"),
		record(t, "c.svs", "06-200", "BDSA-003"),
	}
	l.RebuildFromRecords(records)
	require.Contains(t, l.CanonicalConflicts, "BDSA-003")

	n := l.ResolveCanonicalConflict("BDSA-003", "06-100", records)

	assert.Equal(t, 2, n)
	assert.NotContains(t, l.CanonicalConflicts, "BDSA-003")
	assert.Equal(t, "BDSA-003", records[0].Annotation.Value(model.KeyCanonicalCaseID))
	assert.False(t, records[1].Annotation.IsSet(model.KeyCanonicalCaseID))
	assert.False(t, records[2].Annotation.IsSet(model.KeyCanonicalCaseID))
	assert.NotContains(t, l.Mapping, "06-200")
	assert.Equal(t, "BDSA-003", l.Mapping["06-100"])
}

func TestResolveLocalConflict_PrunesCanonicalSide(t *testing.T) {
	t.Parallel()

	l := New(dirty.NewSet())
	records := []*model.Record{
		// 05-662 claims both canonical IDs; 06-100 also claims BDSA-001.
		record(t, "a.svs", "05-662", "BDSA-001"),
		record(t, "b.svs", "05-662", "BDSA-002"),
		record(t, "c.svs", "06-100", "BDSA-001"),
	}
	l.RebuildFromRecords(records)
	require.Contains(t, l.CanonicalConflicts, "BDSA-001")

	// Choosing BDSA-002 withdraws 05-662's claim on BDSA-001, leaving it
	// uncontested.
	l.ResolveLocalConflict("05-662", "BDSA-002", records)

	assert.NotContains(t, l.LocalConflicts, "05-662")
	assert.NotContains(t, l.CanonicalConflicts, "BDSA-001")
}
