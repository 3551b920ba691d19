package model

import (
	"fmt"
	"time"
)

// Stage identifies one phase of the pipeline for error attribution.
type Stage string

const (
	StageAcquisition Stage = "acquisition"
	StageEnrichment  Stage = "enrichment"
	StagePersistence Stage = "persistence"
	StageMigration   Stage = "migration"
)

// StageError tags a failure with the pipeline stage and item it belongs to.
type StageError struct {
	Stage  Stage
	ItemID string // empty when the failure is not tied to a single item
	Err    error
}

func (e *StageError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PipelineError is one entry in the run's error ledger.
type PipelineError struct {
	Stage     Stage
	ItemID    string
	Message   string
	Timestamp time.Time
}

// HTTPError wraps an HTTP status code so callers can inspect it.
type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}
