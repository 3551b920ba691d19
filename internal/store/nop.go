package store

import (
	"context"

	"github.com/jobsift/jobsift/internal/model"
)

// NopSink is a no-op sink used when storage is skipped. It accepts batches
// and discards them.
type NopSink struct{}

func NewNopSink() *NopSink { return &NopSink{} }

func (s *NopSink) StoreBatch(ctx context.Context, records []model.EnrichedRecord) error { return nil }

func (s *NopSink) MigrateBatchToLive(ctx context.Context, records []model.EnrichedRecord) error {
	return nil
}
