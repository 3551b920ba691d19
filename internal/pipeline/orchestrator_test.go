package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jobsift/jobsift/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves a fixed set of references and fails the configured IDs.
type fakeSource struct {
	mu         sync.Mutex
	refs       []model.ListingReference
	failIDs    map[string]bool
	listCalls  int
	fetchCalls int
}

func newFakeSource(n int, failIDs ...string) *fakeSource {
	s := &fakeSource{failIDs: make(map[string]bool)}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%d", i)
		s.refs = append(s.refs, model.ListingReference{
			ID:     id,
			Title:  "Engineer " + id,
			URL:    "https://example.com/jobs/" + id,
			Source: "acme",
		})
	}
	for _, id := range failIDs {
		s.failIDs[id] = true
	}
	return s
}

func (s *fakeSource) ListReferences(_ context.Context, limit int, _ model.SourceFilters) ([]model.ListingReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if limit > 0 && limit < len(s.refs) {
		return s.refs[:limit], nil
	}
	return s.refs, nil
}

func (s *fakeSource) FetchDetail(_ context.Context, ref model.ListingReference) (model.ListingDetail, error) {
	s.mu.Lock()
	s.fetchCalls++
	s.mu.Unlock()
	if s.failIDs[ref.ID] {
		return model.ListingDetail{}, errors.New("fetch failed")
	}
	return model.ListingDetail{
		ID:          ref.ID,
		Title:       ref.Title,
		URL:         ref.URL,
		Source:      ref.Source,
		Description: "does things",
	}, nil
}

// fakeEnricher passes details through, failing the configured IDs.
type fakeEnricher struct {
	failIDs map[string]bool
	calls   int
}

func (e *fakeEnricher) Enrich(_ context.Context, detail model.ListingDetail) (model.EnrichedRecord, error) {
	e.calls++
	if e.failIDs[detail.ID] {
		return model.EnrichedRecord{}, errors.New("enrich failed")
	}
	return model.EnrichedRecord{
		Detail:   detail,
		Analysis: &model.RoleAnalysis{Summary: "ok"},
	}, nil
}

// fakeSink records every stored batch.
type fakeSink struct {
	batches [][]model.EnrichedRecord
	err     error
}

func (s *fakeSink) StoreBatch(_ context.Context, records []model.EnrichedRecord) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

type fakeMigrator struct {
	calls int
	err   error
}

func (m *fakeMigrator) MigrateBatchToLive(_ context.Context, _ []model.EnrichedRecord) error {
	m.calls++
	return m.err
}

func newTestOrchestrator(source *fakeSource, enricher *fakeEnricher, sink *fakeSink, migrator *fakeMigrator) *Orchestrator {
	return NewOrchestrator(source, enricher, sink, migrator, 4, 0, discardLogger())
}

func defaultOptions() Options {
	return Options{BatchSize: 4, ContinueOnError: true}
}

func TestRun_AllSucceed(t *testing.T) {
	source := newFakeSource(10)
	enricher := &fakeEnricher{}
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, enricher, sink, &fakeMigrator{})

	opts := defaultOptions()
	opts.MaxRecords = 10
	result, err := orch.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if result.Metrics.Scraped != 10 || result.Metrics.Processed != 10 || result.Metrics.Stored != 10 {
		t.Errorf("expected 10/10/10, got %d/%d/%d",
			result.Metrics.Scraped, result.Metrics.Processed, result.Metrics.Stored)
	}
	// Batch size 4 over 10 references: batches of 4, 4, 2.
	if len(sink.batches) != 3 {
		t.Fatalf("expected 3 stored batches, got %d", len(sink.batches))
	}
	for i, want := range []int{4, 4, 2} {
		if len(sink.batches[i]) != want {
			t.Errorf("batch %d: expected %d records, got %d", i, want, len(sink.batches[i]))
		}
	}
	if result.Metrics.EndTime.IsZero() || result.Metrics.TotalDuration < 0 {
		t.Error("expected end time and duration to be set")
	}
}

func TestRun_StageCountsCoverAllInputs(t *testing.T) {
	source := newFakeSource(10, "2", "5")
	enricher := &fakeEnricher{failIDs: map[string]bool{"7": true}}
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, enricher, sink, &fakeMigrator{})

	result, err := orch.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every stage that ran: succeeded + failed == its input count.
	if got := len(result.Acquisition.Succeeded) + len(result.Acquisition.Failed); got != 10 {
		t.Errorf("acquisition outcomes: expected 10, got %d", got)
	}
	if got := len(result.Enrichment.Succeeded) + len(result.Enrichment.Failed); got != 8 {
		t.Errorf("enrichment outcomes: expected 8, got %d", got)
	}
	if got := len(result.Storage.Succeeded) + len(result.Storage.Failed); got != 7 {
		t.Errorf("storage outcomes: expected 7, got %d", got)
	}
	// stored <= processed <= scraped
	m := result.Metrics
	if m.Stored > m.Processed || m.Processed > m.Scraped {
		t.Errorf("invariant violated: stored=%d processed=%d scraped=%d", m.Stored, m.Processed, m.Scraped)
	}
}

func TestRun_AcquisitionFailuresIsolated(t *testing.T) {
	source := newFakeSource(10, "3", "7")
	enricher := &fakeEnricher{}
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, enricher, sink, &fakeMigrator{})

	result, err := orch.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if len(result.Acquisition.Succeeded) != 8 {
		t.Errorf("expected 8 acquisition successes, got %d", len(result.Acquisition.Succeeded))
	}
	if len(result.Acquisition.Failed) != 2 {
		t.Errorf("expected 2 acquisition failures, got %d", len(result.Acquisition.Failed))
	}
	// Downstream stages operate only on the 8 successes.
	if enricher.calls != 8 {
		t.Errorf("expected 8 enrichment calls, got %d", enricher.calls)
	}
	if result.Metrics.Stored != 8 {
		t.Errorf("expected 8 stored, got %d", result.Metrics.Stored)
	}
	for _, f := range result.Acquisition.Failed {
		if f.ID == "" || f.URL == "" || f.Message == "" {
			t.Errorf("failed item missing re-run identity: %+v", f)
		}
	}
}

func TestRun_ValidationRejectsBeforeAcquisition(t *testing.T) {
	source := newFakeSource(10)
	orch := newTestOrchestrator(source, &fakeEnricher{}, &fakeSink{}, &fakeMigrator{})

	opts := defaultOptions()
	opts.SkipProcessing = true
	opts.SkipStorage = false
	_, err := orch.Run(context.Background(), opts)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if source.listCalls != 0 {
		t.Errorf("expected no acquisition calls, got %d", source.listCalls)
	}
	if orch.Status() != StatusIdle {
		t.Errorf("expected status to remain idle, got %s", orch.Status())
	}
}

func TestRun_MigrationFailureDoesNotAffectStorage(t *testing.T) {
	source := newFakeSource(4)
	sink := &fakeSink{}
	migrator := &fakeMigrator{err: errors.New("live store down")}
	orch := newTestOrchestrator(source, &fakeEnricher{}, sink, migrator)

	opts := defaultOptions()
	opts.MigrateToLive = true
	result, err := orch.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	// Staging success stands on its own.
	if len(result.Storage.Succeeded) != 4 || len(result.Storage.Failed) != 0 {
		t.Errorf("storage outcome affected by migration failure: %d/%d",
			len(result.Storage.Succeeded), len(result.Storage.Failed))
	}
	if len(result.Migration.Failed) != 4 {
		t.Errorf("expected 4 migration failures, got %d", len(result.Migration.Failed))
	}
	var migrationErrs int
	for _, e := range result.Metrics.Errors {
		if e.Stage == model.StageMigration {
			migrationErrs++
		}
	}
	if migrationErrs == 0 {
		t.Error("expected migration-stage errors in the ledger")
	}
}

func TestRun_AbortsOnFirstFailureWhenNotContinuing(t *testing.T) {
	source := newFakeSource(10, "2")
	orch := newTestOrchestrator(source, &fakeEnricher{}, &fakeSink{}, &fakeMigrator{})

	opts := defaultOptions()
	opts.ContinueOnError = false
	result, err := orch.Run(context.Background(), opts)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var stageErr *model.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != model.StageAcquisition {
		t.Fatalf("expected acquisition StageError, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected status failed, got %s", result.Status)
	}
	if orch.Status() != StatusFailed {
		t.Errorf("expected orchestrator status failed, got %s", orch.Status())
	}
}

func TestRun_StopHaltsAtBatchBoundary(t *testing.T) {
	source := newFakeSource(10)
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, &fakeEnricher{}, sink, &fakeMigrator{})

	// Request stop right after the first batch completes.
	orch.SetProgressFunc(func(completed, total int) {
		if completed == 4 {
			orch.Stop()
		}
	})

	result, err := orch.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusStopped {
		t.Errorf("expected status stopped, got %s", result.Status)
	}
	// Exactly one full batch, no partial batch 2 work.
	if result.Metrics.Scraped != 4 || result.Metrics.Stored != 4 {
		t.Errorf("expected metrics for exactly batch 1, got scraped=%d stored=%d",
			result.Metrics.Scraped, result.Metrics.Stored)
	}
	if len(sink.batches) != 1 {
		t.Errorf("expected 1 stored batch, got %d", len(sink.batches))
	}
	if source.fetchCalls != 4 {
		t.Errorf("expected 4 detail fetches, got %d", source.fetchCalls)
	}
}

func TestRun_MaxRecordsClampsFinalBatch(t *testing.T) {
	source := newFakeSource(10)
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, &fakeEnricher{}, sink, &fakeMigrator{})

	opts := defaultOptions()
	opts.MaxRecords = 5
	result, err := orch.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Metrics.Scraped != 5 {
		t.Errorf("expected 5 scraped, got %d", result.Metrics.Scraped)
	}
	if len(sink.batches) != 2 || len(sink.batches[0]) != 4 || len(sink.batches[1]) != 1 {
		t.Errorf("expected batches of 4 and 1, got %d batches", len(sink.batches))
	}
}

func TestRun_SkipStorageLeavesStorageEmpty(t *testing.T) {
	source := newFakeSource(4)
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, &fakeEnricher{}, sink, &fakeMigrator{})

	opts := defaultOptions()
	opts.SkipStorage = true
	result, err := orch.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.batches) != 0 {
		t.Errorf("expected no stored batches, got %d", len(sink.batches))
	}
	if result.Metrics.Stored != 0 {
		t.Errorf("expected 0 stored, got %d", result.Metrics.Stored)
	}
	if len(result.Storage.Succeeded)+len(result.Storage.Failed) != 0 {
		t.Error("expected empty storage outcome for skipped stage")
	}
}

func TestRun_ScrapeOnlyPersistsRawDetails(t *testing.T) {
	source := newFakeSource(4)
	enricher := &fakeEnricher{}
	sink := &fakeSink{}
	orch := newTestOrchestrator(source, enricher, sink, &fakeMigrator{})

	opts := defaultOptions()
	opts.ScrapeOnly = true
	result, err := orch.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if enricher.calls != 0 {
		t.Errorf("expected enrichment to be bypassed, got %d calls", enricher.calls)
	}
	if len(result.Enrichment.Succeeded)+len(result.Enrichment.Failed) != 0 {
		t.Error("expected empty enrichment outcome for bypassed stage")
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 4 {
		t.Fatalf("expected one raw batch of 4, got %v", sink.batches)
	}
	for _, rec := range sink.batches[0] {
		if rec.Analysis != nil {
			t.Errorf("expected raw record for %s, got analysis", rec.Detail.ID)
		}
	}
	// Raw-persisted records count as processed.
	m := result.Metrics
	if m.Scraped != 4 || m.Processed != 4 || m.Stored != 4 {
		t.Errorf("expected 4/4/4, got %d/%d/%d", m.Scraped, m.Processed, m.Stored)
	}
	if m.Stored > m.Processed || m.Processed > m.Scraped {
		t.Errorf("invariant violated: stored=%d processed=%d scraped=%d", m.Stored, m.Processed, m.Scraped)
	}
}

func TestRun_StorageFailureIsolatedPerBatch(t *testing.T) {
	source := newFakeSource(4)
	sink := &fakeSink{err: errors.New("disk full")}
	orch := newTestOrchestrator(source, &fakeEnricher{}, sink, &fakeMigrator{})

	result, err := orch.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", result.Status)
	}
	if len(result.Storage.Failed) != 4 {
		t.Errorf("expected 4 storage failures, got %d", len(result.Storage.Failed))
	}
	if result.Metrics.FailedStores != 4 {
		t.Errorf("expected FailedStores=4, got %d", result.Metrics.FailedStores)
	}
}

func TestRun_SecondRunWhileRunningFails(t *testing.T) {
	source := newFakeSource(8)
	orch := newTestOrchestrator(source, &fakeEnricher{}, &fakeSink{}, &fakeMigrator{})

	started := make(chan struct{})
	release := make(chan struct{})
	orch.SetProgressFunc(func(completed, total int) {
		if completed == 4 {
			close(started)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := orch.Run(context.Background(), defaultOptions()); err != nil {
			t.Errorf("first run failed: %v", err)
		}
	}()

	<-started
	if _, err := orch.Run(context.Background(), defaultOptions()); err == nil {
		t.Error("expected concurrent run to be rejected")
	}
	close(release)
	<-done
}
