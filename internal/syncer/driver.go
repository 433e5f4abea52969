// Package syncer pushes dirty records to the remote archive in rate-limited,
// retrying, cancellable batches.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/dirty"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/resilience"
	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

// ErrAlreadyRunning is returned by Run when a job is already in flight.
// Only one job may run at a time.
var ErrAlreadyRunning = eris.New("syncer: job already running")

// Status is the lifecycle state of a sync job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Terminal reports whether s is a terminal job state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Outcome categorizes how a dispatched item resolved. Every dispatched item
// resolves to exactly one outcome.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ItemResult records the resolution of one record within a job.
type ItemResult struct {
	RecordID string  `json:"recordId"`
	ItemID   string  `json:"itemId,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// Progress is a point-in-time view of a job, reported after every
// individual item resolution.
type Progress struct {
	Status    Status `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`

	// CurrentItemID is the item most recently handed to a batch worker,
	// cleared when the job reaches a terminal state.
	CurrentItemID string `json:"currentItemId,omitempty"`
}

// Report is the terminal summary of a job, retained until the next Run.
type Report struct {
	Status    Status       `json:"status"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Results   []ItemResult `json:"results"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
}

// AckStore remembers the last annotation the archive acknowledged for each
// record, for change detection.
type AckStore interface {
	Acknowledged(recordID string) *model.Annotation
	Acknowledge(recordID string, ann *model.Annotation)
}

// Config tunes the driver.
type Config struct {
	// BatchWidth is the number of item updates dispatched concurrently.
	// Default: 5.
	BatchWidth int

	// BatchDelay is the pause between batches that did real server work.
	// A batch of pure skips does not pace. Default: 250ms.
	BatchDelay time.Duration

	// Retry controls per-item retry of transient failures.
	Retry resilience.RetryConfig

	// OnProgress, when set, is invoked after every item resolution.
	OnProgress func(Progress)
}

func (c Config) withDefaults() Config {
	if c.BatchWidth <= 0 {
		c.BatchWidth = 5
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 250 * time.Millisecond
	}
	return c
}

// Driver drives sync jobs against the archive. A driver is reusable; it
// runs at most one job at a time.
type Driver struct {
	client  dsa.Client
	tracker *dirty.Set
	acks    AckStore
	cfg     Config

	cancelled atomic.Bool

	mu       sync.Mutex
	status   Status
	progress Progress
	report   *Report
	snapshot []*model.Record
}

// New creates a driver. The dirty set is the only authority consulted for
// what to transmit.
func New(client dsa.Client, tracker *dirty.Set, acks AckStore, cfg Config) *Driver {
	return &Driver{
		client:  client,
		tracker: tracker,
		acks:    acks,
		cfg:     cfg.withDefaults(),
		status:  StatusIdle,
	}
}

// Status returns the current job status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Progress returns the current progress counters.
func (d *Driver) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// Report returns the last terminal job summary, or nil if no job has
// finished since the last Run.
func (d *Driver) Report() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.report
}

// Observe acknowledges a terminal state, resetting the driver to idle. The
// retained report stays available until the next Run.
func (d *Driver) Observe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.Terminal() {
		d.status = StatusIdle
		d.progress.Status = StatusIdle
	}
}

// Cancel requests cooperative cancellation. Items already in flight are
// allowed to finish so the dirty set never loses track of an update that
// may have landed server-side; no new batches are issued.
func (d *Driver) Cancel() {
	d.mu.Lock()
	if d.status == StatusRunning {
		d.status = StatusCancelling
		d.progress.Status = StatusCancelling
	}
	d.mu.Unlock()
	d.cancelled.Store(true)
}

// Run executes one sync job over the records currently marked dirty and
// returns its terminal report. The dirty list is snapshotted at start:
// records dirtied afterwards stay dirty for the next job. Item-level
// failures never abort the job; Run returns an error only for driver
// faults (already running, no archive client).
func (d *Driver) Run(ctx context.Context, records []*model.Record) (*Report, error) {
	if err := d.Acquire(records); err != nil {
		return nil, err
	}
	return d.Process(ctx), nil
}

// Acquire claims the driver for a new job, snapshotting the dirty subset of
// records. It fails fast with ErrAlreadyRunning when a job is in flight.
// The caller must follow a successful Acquire with Process.
func (d *Driver) Acquire(records []*model.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusRunning || d.status == StatusCancelling {
		return ErrAlreadyRunning
	}
	if d.client == nil {
		d.status = StatusError
		d.progress = Progress{Status: StatusError}
		return eris.New("syncer: no archive client configured")
	}

	d.snapshot = d.tracker.Filter(records)
	d.cancelled.Store(false)
	d.status = StatusRunning
	d.report = nil
	d.progress = Progress{Status: StatusRunning, Total: len(d.snapshot)}
	return nil
}

// Process drives an acquired job to a terminal state.
func (d *Driver) Process(ctx context.Context) *Report {
	d.mu.Lock()
	snapshot := d.snapshot
	d.snapshot = nil
	d.mu.Unlock()

	report := &Report{
		Status:    StatusRunning,
		Total:     len(snapshot),
		StartedAt: time.Now().UTC(),
	}

	zap.L().Info("sync job started",
		zap.Int("total", report.Total),
		zap.Int("batch_width", d.cfg.BatchWidth),
	)

	cancelledMidFlight := false
	for start := 0; start < len(snapshot); start += d.cfg.BatchWidth {
		if d.cancelled.Load() {
			cancelledMidFlight = true
			break
		}

		end := min(start+d.cfg.BatchWidth, len(snapshot))
		batch := snapshot[start:end]
		worked := d.runBatch(ctx, batch, report)

		// Pace only after a batch that touched the server, and never
		// once cancellation is requested.
		if worked && end < len(snapshot) && !d.cancelled.Load() {
			select {
			case <-ctx.Done():
				cancelledMidFlight = true
			case <-time.After(d.cfg.BatchDelay):
			}
			if cancelledMidFlight {
				break
			}
		}
	}

	status := StatusCompleted
	if cancelledMidFlight || d.cancelled.Load() {
		status = StatusCancelled
	}
	report.Status = status
	report.EndedAt = time.Now().UTC()

	d.mu.Lock()
	d.status = status
	d.progress.Status = status
	d.progress.CurrentItemID = ""
	d.report = report
	d.mu.Unlock()

	zap.L().Info("sync job finished",
		zap.String("status", string(status)),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report
}

// runBatch dispatches all items in the batch concurrently and waits for
// every one to resolve. Returns whether the batch did real server work
// (at least one success or failure).
func (d *Driver) runBatch(ctx context.Context, batch []*model.Record, report *Report) bool {
	results := make([]ItemResult, len(batch))

	var g errgroup.Group
	for i, rec := range batch {
		g.Go(func() error {
			d.noteDispatch(rec.ItemID)
			results[i] = d.syncOne(ctx, rec)
			d.recordResult(report, results[i])
			return nil
		})
	}
	_ = g.Wait()

	worked := false
	for _, res := range results {
		if res.Outcome != OutcomeSkipped {
			worked = true
		}
	}
	return worked
}

// syncOne resolves a single record to exactly one outcome.
func (d *Driver) syncOne(ctx context.Context, rec *model.Record) ItemResult {
	res := ItemResult{RecordID: rec.ID, ItemID: rec.ItemID}

	// Skip checks happen at dispatch time, not snapshot time.
	if rec.Annotation.Empty() {
		res.Outcome = OutcomeSkipped
		d.tracker.Clear(rec.ID)
		return res
	}
	if acked := d.acks.Acknowledged(rec.ID); acked != nil && rec.Annotation.Equal(acked) {
		// Confirmed unchanged: nothing to transmit, and the record is
		// in sync, so it leaves the dirty set.
		res.Outcome = OutcomeSkipped
		d.tracker.Clear(rec.ID)
		return res
	}
	if rec.ItemID == "" {
		// No archive item to write to. The local change is real, so the
		// record stays dirty for a future job that can map it.
		res.Outcome = OutcomeSkipped
		return res
	}

	ann := toWire(rec)
	cfg := d.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("update item annotation")
	}
	cfg.ShouldRetry = retryable

	_, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*dsa.Item, error) {
		return d.client.UpdateItemAnnotation(ctx, rec.ItemID, ann)
	})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		zap.L().Warn("item sync failed",
			zap.String("record", rec.ID),
			zap.String("item", rec.ItemID),
			zap.Error(err),
		)
		return res
	}

	res.Outcome = OutcomeSucceeded
	d.acks.Acknowledge(rec.ID, rec.Annotation.Clone())
	d.tracker.Clear(rec.ID)
	return res
}

// noteDispatch publishes the item a worker is about to transmit.
func (d *Driver) noteDispatch(itemID string) {
	d.mu.Lock()
	d.progress.CurrentItemID = itemID
	d.mu.Unlock()
}

func (d *Driver) recordResult(report *Report, res ItemResult) {
	d.mu.Lock()
	report.Results = append(report.Results, res)
	report.Completed++
	d.progress.Completed++
	switch res.Outcome {
	case OutcomeSucceeded:
		report.Succeeded++
		d.progress.Succeeded++
	case OutcomeFailed:
		report.Failed++
		d.progress.Failed++
	case OutcomeSkipped:
		report.Skipped++
		d.progress.Skipped++
	}
	snapshot := d.progress
	cb := d.cfg.OnProgress
	d.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// retryable classifies an archive error: API errors retry only on transient
// HTTP statuses, everything else falls back to the network-level check.
func retryable(err error) bool {
	var apiErr *dsa.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// toWire converts a record's annotation to the archive wire document.
func toWire(rec *model.Record) dsa.LocalAnnotation {
	ann := rec.Annotation
	return dsa.LocalAnnotation{
		LocalCaseID:    ann.Value(model.KeyLocalCaseID),
		LocalStainID:   ann.Value(model.KeyLocalStainID),
		LocalRegionID:  ann.Value(model.KeyLocalRegionID),
		CaseID:         ann.Value(model.KeyCanonicalCaseID),
		StainProtocol:  []string(ann.Refs(model.KeyStainProtocolRefs)),
		RegionProtocol: []string(ann.Refs(model.KeyRegionProtocolRefs)),
		LastUpdated:    rec.LastAnnotationChange,
		Source:         dsa.AnnotationSource,
	}
}
