package pipeline

import (
	"fmt"

	"github.com/jobsift/jobsift/internal/model"
)

// Options configures one pipeline run. Supplied once at run start and
// immutable for the run's duration.
type Options struct {
	// MaxRecords caps how many listings the run processes. <= 0 means unlimited.
	MaxRecords int
	// BatchSize is how many references flow through all stages together.
	BatchSize int
	// SkipProcessing bypasses enrichment. Requires SkipStorage: processing
	// output is required input to storage.
	SkipProcessing bool
	// SkipStorage bypasses the persistence sink.
	SkipStorage bool
	// MigrateToLive additionally promotes each stored batch to the live store.
	MigrateToLive bool
	// ContinueOnError isolates per-item failures instead of aborting the run.
	ContinueOnError bool
	// ScrapeOnly persists raw details without enrichment.
	ScrapeOnly bool
	// Filters narrows which references the acquisition source yields.
	Filters model.SourceFilters
}

// Validate fails fast on contradictory configurations, before any work starts.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.SkipProcessing && !o.SkipStorage {
		return fmt.Errorf("skipProcessing requires skipStorage: processing output is required input to storage")
	}
	if o.MigrateToLive && (o.SkipProcessing || o.SkipStorage) {
		return fmt.Errorf("migrateToLive requires both processing and storage")
	}
	if o.ScrapeOnly && o.SkipProcessing {
		return fmt.Errorf("scrapeOnly and skipProcessing are mutually exclusive")
	}
	return nil
}
