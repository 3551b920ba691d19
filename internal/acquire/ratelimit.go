package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobsift/jobsift/internal/model"
)

// RateLimitedSource is a decorator that enforces a minimum gap between
// requests to the board before delegating to the wrapped source. Concurrent
// detail fetches within a batch share the limiter, so the gap holds across
// goroutines.
type RateLimitedSource struct {
	inner    model.AcquisitionSource
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewRateLimitedSource wraps a source with request pacing.
func NewRateLimitedSource(inner model.AcquisitionSource, minDelay time.Duration) *RateLimitedSource {
	return &RateLimitedSource{
		inner:    inner,
		minDelay: minDelay,
	}
}

// wait blocks until minDelay has passed since the previous request.
// Returns an error if the context is cancelled while waiting.
func (s *RateLimitedSource) wait(ctx context.Context) error {
	s.mu.Lock()
	now := time.Now()

	if s.lastCall.IsZero() || now.Sub(s.lastCall) >= s.minDelay {
		s.lastCall = now
		s.mu.Unlock()
		return nil
	}

	// Reserve the next slot before sleeping so concurrent callers queue up
	// rather than all waking at once.
	target := s.lastCall.Add(s.minDelay)
	s.lastCall = target
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait: %w", ctx.Err())
	case <-time.After(time.Until(target)):
	}
	return nil
}

func (s *RateLimitedSource) ListReferences(ctx context.Context, limit int, filters model.SourceFilters) ([]model.ListingReference, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.inner.ListReferences(ctx, limit, filters)
}

func (s *RateLimitedSource) FetchDetail(ctx context.Context, ref model.ListingReference) (model.ListingDetail, error) {
	if err := s.wait(ctx); err != nil {
		return model.ListingDetail{}, err
	}
	return s.inner.FetchDetail(ctx, ref)
}
