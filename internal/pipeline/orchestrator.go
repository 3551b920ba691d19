package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobsift/jobsift/internal/model"
)

// Enricher turns one listing's details into an enriched record.
type Enricher interface {
	Enrich(ctx context.Context, detail model.ListingDetail) (model.EnrichedRecord, error)
}

// Orchestrator drives acquisition → enrichment → persistence in bounded
// batches. Each batch flows end-to-end through all active stages before the
// next one starts, so memory stays bounded and partial results survive a
// mid-run stop.
//
// Orchestrator owns the run state and metrics exclusively; collaborators
// communicate only through call arguments and return values.
type Orchestrator struct {
	source      model.AcquisitionSource
	enricher    Enricher
	sink        model.BatchSink
	migrator    model.LiveMigrator
	concurrency int
	batchDelay  time.Duration
	logger      *slog.Logger
	onProgress  func(completed, total int)

	ctrl    *control
	mu      sync.Mutex
	metrics Metrics
}

// NewOrchestrator wires the pipeline. sink and migrator may be nil when the
// corresponding stages are always skipped; enricher may be nil for
// scrape-only pipelines.
func NewOrchestrator(
	source model.AcquisitionSource,
	enricher Enricher,
	sink model.BatchSink,
	migrator model.LiveMigrator,
	concurrency int,
	batchDelay time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		source:      source,
		enricher:    enricher,
		sink:        sink,
		migrator:    migrator,
		concurrency: concurrency,
		batchDelay:  batchDelay,
		logger:      logger,
		ctrl:        newControl(),
	}
}

// SetProgressFunc registers a callback invoked after each batch with the
// number of references completed so far and the run total.
func (o *Orchestrator) SetProgressFunc(fn func(completed, total int)) {
	o.onProgress = fn
}

// Status reports the current run state.
func (o *Orchestrator) Status() Status { return o.ctrl.Status() }

// Stop requests a cooperative stop; the in-flight batch finishes first.
func (o *Orchestrator) Stop() { o.ctrl.Stop() }

// Pause blocks the run at the next batch boundary until Resume.
func (o *Orchestrator) Pause() { o.ctrl.Pause() }

// Resume unblocks a paused run.
func (o *Orchestrator) Resume() { o.ctrl.Resume() }

// Snapshot returns a copy of the live metrics.
func (o *Orchestrator) Snapshot() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics.clone()
}

// Run executes one pipeline run. It always returns a Result when work
// started; the error is non-nil only for invalid options, a concurrent run,
// or an aborting failure under ContinueOnError=false.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := o.ctrl.start(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.metrics = Metrics{StartTime: time.Now()}
	o.mu.Unlock()

	result := &Result{}

	refs, err := o.source.ListReferences(ctx, opts.MaxRecords, opts.Filters)
	if err != nil {
		o.recordError(model.StageAcquisition, "", err)
		return o.finish(result, StatusFailed), &model.StageError{Stage: model.StageAcquisition, Err: err}
	}
	if opts.MaxRecords > 0 && len(refs) > opts.MaxRecords {
		refs = refs[:opts.MaxRecords]
	}

	total := len(refs)
	completed := 0
	o.logger.Info("pipeline run started",
		"references", total,
		"batch_size", opts.BatchSize,
		"skip_processing", opts.SkipProcessing,
		"skip_storage", opts.SkipStorage,
		"migrate_to_live", opts.MigrateToLive,
	)

	for start := 0; start < total; start += opts.BatchSize {
		if ctx.Err() != nil {
			o.ctrl.Stop()
		}
		if o.ctrl.stopped() {
			break
		}
		if err := o.ctrl.waitIfPaused(ctx); err != nil {
			o.ctrl.Stop()
			break
		}
		if o.ctrl.stopped() {
			break
		}

		end := min(start+opts.BatchSize, total)
		batch := refs[start:end]
		o.logger.Info("processing batch",
			"batch", start/opts.BatchSize+1,
			"batches", (total+opts.BatchSize-1)/opts.BatchSize,
			"size", len(batch),
		)

		if err := o.runBatch(ctx, batch, opts, result); err != nil {
			return o.finish(result, StatusFailed), err
		}

		completed += len(batch)
		if o.onProgress != nil {
			o.onProgress(completed, total)
		}

		// Polite pause between batches, except after the last one.
		if o.batchDelay > 0 && end < total {
			select {
			case <-ctx.Done():
				o.ctrl.Stop()
			case <-time.After(o.batchDelay):
			}
		}
	}

	status := StatusCompleted
	if o.ctrl.stopped() {
		status = StatusStopped
	}
	return o.finish(result, status), nil
}

// runBatch pushes one batch through every active stage. A non-nil error
// means the run must abort (ContinueOnError is false).
func (o *Orchestrator) runBatch(ctx context.Context, batch []model.ListingReference, opts Options, result *Result) error {
	outcomes := o.acquireBatch(ctx, batch)

	var details []model.ListingDetail
	for _, out := range outcomes {
		if out.err != nil {
			o.addFailure(&result.Acquisition, model.StageAcquisition, out.ref.ID, out.ref.URL, out.err)
			if !opts.ContinueOnError {
				return &model.StageError{Stage: model.StageAcquisition, ItemID: out.ref.ID, Err: out.err}
			}
			continue
		}
		o.mu.Lock()
		o.metrics.Scraped++
		o.mu.Unlock()
		result.Acquisition.Succeeded = append(result.Acquisition.Succeeded, out.ref.ID)
		details = append(details, out.detail)
	}

	var records []model.EnrichedRecord
	switch {
	case opts.SkipProcessing:
		// Nothing flows downstream; storage is skipped too (validated).
	case opts.ScrapeOnly:
		// Raw details go straight to the sink, unanalyzed. They still count
		// as processed: stored <= processed <= scraped holds for every run.
		for _, d := range details {
			records = append(records, model.EnrichedRecord{Detail: d})
		}
		o.mu.Lock()
		o.metrics.Processed += len(details)
		o.mu.Unlock()
	default:
		for _, d := range details {
			rec, err := o.enricher.Enrich(ctx, d)
			if err != nil {
				o.addFailure(&result.Enrichment, model.StageEnrichment, d.ID, d.URL, err)
				if !opts.ContinueOnError {
					return &model.StageError{Stage: model.StageEnrichment, ItemID: d.ID, Err: err}
				}
				continue
			}
			o.mu.Lock()
			o.metrics.Processed++
			o.mu.Unlock()
			result.Enrichment.Succeeded = append(result.Enrichment.Succeeded, d.ID)
			records = append(records, rec)
		}
	}

	if opts.SkipStorage || len(records) == 0 {
		return nil
	}

	if err := o.sink.StoreBatch(ctx, records); err != nil {
		for _, rec := range records {
			o.addFailure(&result.Storage, model.StagePersistence, rec.Detail.ID, rec.Detail.URL, err)
		}
		if !opts.ContinueOnError {
			return &model.StageError{Stage: model.StagePersistence, Err: err}
		}
		return nil
	}
	o.mu.Lock()
	o.metrics.Stored += len(records)
	o.mu.Unlock()
	for _, rec := range records {
		result.Storage.Succeeded = append(result.Storage.Succeeded, rec.Detail.ID)
	}

	// Migration failures never reclassify the batch's storage success.
	if opts.MigrateToLive {
		if err := o.migrator.MigrateBatchToLive(ctx, records); err != nil {
			for _, rec := range records {
				o.addFailure(&result.Migration, model.StageMigration, rec.Detail.ID, rec.Detail.URL, err)
			}
			if !opts.ContinueOnError {
				return &model.StageError{Stage: model.StageMigration, Err: err}
			}
			return nil
		}
		for _, rec := range records {
			result.Migration.Succeeded = append(result.Migration.Succeeded, rec.Detail.ID)
		}
	}

	return nil
}

// itemOutcome is one reference's acquisition result: a detail or an error,
// never both meaningful at once.
type itemOutcome struct {
	ref    model.ListingReference
	detail model.ListingDetail
	err    error
}

// acquireBatch fetches details for every reference concurrently and waits for
// all of them. A single item's failure never cancels its batch siblings, so
// the group carries no shared cancellation; each failure lands in its slot.
func (o *Orchestrator) acquireBatch(ctx context.Context, batch []model.ListingReference) []itemOutcome {
	outcomes := make([]itemOutcome, len(batch))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, ref := range batch {
		i, ref := i, ref
		g.Go(func() error {
			detail, err := o.source.FetchDetail(ctx, ref)
			if err != nil {
				outcomes[i] = itemOutcome{ref: ref, detail: model.PlaceholderDetail(ref), err: err}
				return nil
			}
			outcomes[i] = itemOutcome{ref: ref, detail: detail}
			return nil
		})
	}
	g.Wait()

	return outcomes
}

// addFailure records one failed item: error ledger entry, stage counter, and
// the stage's failed list.
func (o *Orchestrator) addFailure(outcome *StageOutcome, stage model.Stage, itemID, url string, err error) {
	o.recordError(stage, itemID, err)
	outcome.Failed = append(outcome.Failed, FailedItem{ID: itemID, URL: url, Message: err.Error()})
	o.logger.Warn("item failed", "stage", stage, "item", itemID, "error", err)
}

func (o *Orchestrator) recordError(stage model.Stage, itemID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch stage {
	case model.StageAcquisition:
		o.metrics.FailedScrapes++
	case model.StageEnrichment:
		o.metrics.FailedEnrichments++
	case model.StagePersistence:
		o.metrics.FailedStores++
	case model.StageMigration:
		o.metrics.FailedMigrations++
	}
	o.metrics.Errors = append(o.metrics.Errors, model.PipelineError{
		Stage:     stage,
		ItemID:    itemID,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// finish stamps end time, records the terminal status, and seals the result.
func (o *Orchestrator) finish(result *Result, status Status) *Result {
	o.mu.Lock()
	o.metrics.EndTime = time.Now()
	o.metrics.TotalDuration = o.metrics.EndTime.Sub(o.metrics.StartTime)
	result.Metrics = o.metrics.clone()
	o.mu.Unlock()

	o.ctrl.finish(status)
	result.Status = status

	o.logger.Info("pipeline run finished",
		"status", status,
		"scraped", result.Metrics.Scraped,
		"processed", result.Metrics.Processed,
		"stored", result.Metrics.Stored,
		"errors", len(result.Metrics.Errors),
		"duration", result.Metrics.TotalDuration.String(),
	)
	return result
}
