package pipeline

import (
	"time"

	"github.com/jobsift/jobsift/internal/model"
)

// Metrics are the running counters and error ledger for one pipeline run.
// The orchestrator is the only writer; readers get copies via Snapshot.
type Metrics struct {
	Scraped           int
	Processed         int
	Stored            int
	FailedScrapes     int
	FailedEnrichments int
	FailedStores      int
	FailedMigrations  int

	Errors []model.PipelineError

	StartTime     time.Time
	EndTime       time.Time
	TotalDuration time.Duration
}

// clone returns a deep copy safe to hand outside the orchestrator.
func (m Metrics) clone() Metrics {
	out := m
	out.Errors = make([]model.PipelineError, len(m.Errors))
	copy(out.Errors, m.Errors)
	return out
}

// FailedItem identifies a failed item with enough identity to re-run it later.
type FailedItem struct {
	ID      string
	URL     string
	Message string
}

// StageOutcome lists the items that succeeded and failed one stage.
// A skipped stage has both lists empty.
type StageOutcome struct {
	Succeeded []string
	Failed    []FailedItem
}

// Result is the consolidated outcome of one pipeline run.
type Result struct {
	Status      Status
	Metrics     Metrics
	Acquisition StageOutcome
	Enrichment  StageOutcome
	Storage     StageOutcome
	Migration   StageOutcome
}
