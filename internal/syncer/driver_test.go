package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/dirty"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

// fakeClient records annotation updates and fails the item IDs listed in
// failWith.
type fakeClient struct {
	dsa.Client

	mu       sync.Mutex
	updates  []string
	failWith map[string]error
	onUpdate func(itemID string)
}

func (f *fakeClient) UpdateItemAnnotation(ctx context.Context, itemID string, ann dsa.LocalAnnotation) (*dsa.Item, error) {
	f.mu.Lock()
	f.updates = append(f.updates, itemID)
	cb := f.onUpdate
	err := f.failWith[itemID]
	f.mu.Unlock()

	if cb != nil {
		cb(itemID)
	}
	if err != nil {
		return nil, err
	}
	return &dsa.Item{ID: itemID}, nil
}

func (f *fakeClient) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type memAcks struct {
	mu   sync.Mutex
	acks map[string]*model.Annotation
}

func newMemAcks() *memAcks {
	return &memAcks{acks: make(map[string]*model.Annotation)}
}

func (m *memAcks) Acknowledged(recordID string) *model.Annotation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks[recordID]
}

func (m *memAcks) Acknowledge(recordID string, ann *model.Annotation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[recordID] = ann
}

func annotatedRecord(name, itemID string) *model.Record {
	rec := model.NewRecord("test.csv", name, nil)
	rec.ItemID = itemID
	rec.SetField(model.KeyLocalCaseID, "05-662", model.SourcePatternExtraction)
	return rec
}

func testConfig() Config {
	return Config{
		BatchWidth: 5,
		BatchDelay: time.Millisecond,
	}
}

func TestRun_EveryDirtyRecordResolvesOnce(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}

	var records []*model.Record
	for i := 0; i < 12; i++ {
		rec := annotatedRecord(fmt.Sprintf("slide-%02d.svs", i), fmt.Sprintf("item-%02d", i))
		records = append(records, rec)
		tracker.Mark(rec.ID)
	}

	d := New(client, tracker, newMemAcks(), testConfig())
	report, err := d.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 12, report.Total)
	assert.Equal(t, 12, report.Completed)
	assert.Equal(t, 12, report.Succeeded)
	assert.Len(t, report.Results, 12)
	assert.Equal(t, 12, client.updateCount())
	assert.Equal(t, 0, tracker.Len())
}

func TestRun_WideBatchClearsEveryMark(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}

	// Wide batches make the workers hammer the tracker concurrently.
	var records []*model.Record
	for i := 0; i < 200; i++ {
		rec := annotatedRecord(fmt.Sprintf("slide-%03d.svs", i), fmt.Sprintf("item-%03d", i))
		records = append(records, rec)
		tracker.Mark(rec.ID)
	}

	d := New(client, tracker, newMemAcks(), Config{BatchWidth: 50, BatchDelay: time.Millisecond})
	report, err := d.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 200, report.Succeeded)
	assert.Equal(t, 200, client.updateCount())
	assert.Equal(t, 0, tracker.Len())
}

func TestRun_ItemFailureDoesNotAbortJob(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{failWith: map[string]error{
		"item-07": &dsa.APIError{StatusCode: 400, Message: "invalid metadata"},
	}}

	var records []*model.Record
	var failing *model.Record
	for i := 1; i <= 12; i++ {
		rec := annotatedRecord(fmt.Sprintf("slide-%02d.svs", i), fmt.Sprintf("item-%02d", i))
		if i == 7 {
			failing = rec
		}
		records = append(records, rec)
		tracker.Mark(rec.ID)
	}

	d := New(client, tracker, newMemAcks(), testConfig())
	report, err := d.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 12, report.Total)
	assert.Equal(t, 12, report.Completed)
	assert.Equal(t, 11, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	// The failed record stays dirty for the next job; everything else is
	// clean.
	assert.Equal(t, 1, tracker.Len())
	assert.True(t, tracker.Contains(failing.ID))

	// A permanent 400 fails immediately, without retries.
	assert.Equal(t, 12, client.updateCount())
}

func TestRun_TransientFailureRetries(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{failWith: map[string]error{
		"item-00": &dsa.APIError{StatusCode: 503, Message: "unavailable"},
	}}

	rec := annotatedRecord("slide.svs", "item-00")
	tracker.Mark(rec.ID)

	cfg := testConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.Delay = time.Millisecond

	d := New(client, tracker, newMemAcks(), cfg)
	report, err := d.Run(context.Background(), []*model.Record{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, client.updateCount())
	assert.True(t, tracker.Contains(rec.ID))
}

func TestRun_SkipSemantics(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}
	acks := newMemAcks()

	empty := model.NewRecord("test.csv", "empty.svs", nil)
	empty.ItemID = "item-empty"

	unchanged := annotatedRecord("unchanged.svs", "item-unchanged")
	acks.Acknowledge(unchanged.ID, unchanged.Annotation.Clone())

	unmapped := annotatedRecord("unmapped.svs", "")

	for _, rec := range []*model.Record{empty, unchanged, unmapped} {
		tracker.Mark(rec.ID)
	}

	d := New(client, tracker, acks, testConfig())
	report, err := d.Run(context.Background(), []*model.Record{empty, unchanged, unmapped})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 0, client.updateCount())

	// Empty and unchanged skips leave the dirty set; the unmapped record
	// keeps its dirty mark for a future job.
	assert.False(t, tracker.Contains(empty.ID))
	assert.False(t, tracker.Contains(unchanged.ID))
	assert.True(t, tracker.Contains(unmapped.ID))
}

func TestRun_SuccessAcknowledgesAnnotation(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}
	acks := newMemAcks()

	rec := annotatedRecord("slide.svs", "item-1")
	tracker.Mark(rec.ID)

	d := New(client, tracker, acks, testConfig())
	_, err := d.Run(context.Background(), []*model.Record{rec})
	require.NoError(t, err)

	acked := acks.Acknowledged(rec.ID)
	require.NotNil(t, acked)
	assert.True(t, rec.Annotation.Equal(acked))

	// Re-running with no changes skips and clears.
	tracker.Mark(rec.ID)
	report, err := d.Run(context.Background(), []*model.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, client.updateCount())
	assert.Equal(t, 0, tracker.Len())
}

func TestRun_SecondJobFailsFast(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	rec := annotatedRecord("slide.svs", "item-1")
	tracker.Mark(rec.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{onUpdate: func(string) {
		close(started)
		<-release
	}}

	d := New(client, tracker, newMemAcks(), testConfig())
	require.NoError(t, d.Acquire([]*model.Record{rec}))

	done := make(chan struct{})
	go func() {
		d.Process(context.Background())
		close(done)
	}()
	<-started

	err := d.Acquire([]*model.Record{rec})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
	assert.Equal(t, StatusCompleted, d.Status())
}

func TestRun_CancellationStopsNewBatches(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()

	var records []*model.Record
	for i := 0; i < 10; i++ {
		rec := annotatedRecord(fmt.Sprintf("slide-%02d.svs", i), fmt.Sprintf("item-%02d", i))
		records = append(records, rec)
		tracker.Mark(rec.ID)
	}

	d := New(nil, tracker, newMemAcks(), Config{BatchWidth: 2, BatchDelay: time.Millisecond})
	client := &fakeClient{}
	client.onUpdate = func(string) { d.Cancel() }
	d.client = client

	report, err := d.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, report.Status)
	// The in-flight batch drained; nothing new was dispatched after the
	// cancel landed.
	assert.Equal(t, 2, client.updateCount())
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 2, report.Succeeded)

	// Undispatched records keep their dirty marks.
	assert.Equal(t, 8, tracker.Len())
}

func TestDriver_ObserveResetsTerminalState(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	d := New(&fakeClient{}, tracker, newMemAcks(), testConfig())

	_, err := d.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, d.Status())

	d.Observe()
	assert.Equal(t, StatusIdle, d.Status())
	// The terminal report survives observation.
	require.NotNil(t, d.Report())
	assert.Equal(t, StatusCompleted, d.Report().Status)

	// Observing a non-terminal state is a no-op.
	d.Observe()
	assert.Equal(t, StatusIdle, d.Status())
}

func TestAcquire_NoClientIsDriverFault(t *testing.T) {
	t.Parallel()

	d := New(nil, dirty.NewSet(), newMemAcks(), testConfig())
	err := d.Acquire(nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, StatusError, d.Status())

	d.Observe()
	assert.Equal(t, StatusIdle, d.Status())
}

func TestRun_OnlyDirtyRecordsDispatched(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}

	dirtyRec := annotatedRecord("dirty.svs", "item-dirty")
	cleanRec := annotatedRecord("clean.svs", "item-clean")
	tracker.Mark(dirtyRec.ID)

	d := New(client, tracker, newMemAcks(), testConfig())
	report, err := d.Run(context.Background(), []*model.Record{dirtyRec, cleanRec})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, []string{"item-dirty"}, client.updates)
}

func TestProgress_ReportsItemInFlight(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	rec := annotatedRecord("slide.svs", "item-42")
	tracker.Mark(rec.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{onUpdate: func(string) {
		close(started)
		<-release
	}}

	d := New(client, tracker, newMemAcks(), testConfig())
	require.NoError(t, d.Acquire([]*model.Record{rec}))

	done := make(chan struct{})
	go func() {
		d.Process(context.Background())
		close(done)
	}()
	<-started

	// While the update is in flight the progress names it.
	p := d.Progress()
	assert.Equal(t, "item-42", p.CurrentItemID)
	assert.Equal(t, 0, p.Completed)

	close(release)
	<-done
	assert.Empty(t, d.Progress().CurrentItemID)
}

func TestRun_ProgressCallbackSeesEveryResolution(t *testing.T) {
	t.Parallel()

	tracker := dirty.NewSet()
	client := &fakeClient{}

	var records []*model.Record
	for i := 0; i < 7; i++ {
		rec := annotatedRecord(fmt.Sprintf("slide-%d.svs", i), fmt.Sprintf("item-%d", i))
		records = append(records, rec)
		tracker.Mark(rec.ID)
	}

	var mu sync.Mutex
	var seen []int
	cfg := testConfig()
	cfg.OnProgress = func(p Progress) {
		mu.Lock()
		seen = append(seen, p.Completed)
		mu.Unlock()
	}

	d := New(client, tracker, newMemAcks(), cfg)
	_, err := d.Run(context.Background(), records)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 7)
	assert.Contains(t, seen, 7)
}
