package acquire

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jobsift/jobsift/internal/model"
)

// stubSource counts calls and records when they land.
type stubSource struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *stubSource) ListReferences(_ context.Context, _ int, _ model.SourceFilters) ([]model.ListingReference, error) {
	s.record()
	return nil, nil
}

func (s *stubSource) FetchDetail(_ context.Context, ref model.ListingReference) (model.ListingDetail, error) {
	s.record()
	return model.ListingDetail{ID: ref.ID}, nil
}

func (s *stubSource) record() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, time.Now())
}

func TestRateLimitedSource_EnforcesMinimumGap(t *testing.T) {
	inner := &stubSource{}
	minDelay := 30 * time.Millisecond
	source := NewRateLimitedSource(inner, minDelay)

	ref := model.ListingReference{ID: "1"}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := source.FetchDetail(context.Background(), ref); err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
	}

	// First call is immediate; each subsequent call waits out the gap.
	if elapsed := time.Since(start); elapsed < 2*minDelay {
		t.Errorf("three calls finished in %v, expected at least %v", elapsed, 2*minDelay)
	}
	if len(inner.times) != 3 {
		t.Fatalf("expected 3 inner calls, got %d", len(inner.times))
	}
}

func TestRateLimitedSource_ConcurrentCallersQueue(t *testing.T) {
	inner := &stubSource{}
	minDelay := 20 * time.Millisecond
	source := NewRateLimitedSource(inner, minDelay)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = source.FetchDetail(context.Background(), model.ListingReference{ID: "x"})
		}()
	}
	wg.Wait()

	// Slots are reserved under the lock, so 4 callers take at least 3 gaps.
	if elapsed := time.Since(start); elapsed < 3*minDelay {
		t.Errorf("four concurrent calls finished in %v, expected at least %v", elapsed, 3*minDelay)
	}
}

func TestRateLimitedSource_CancelledWaitReturnsError(t *testing.T) {
	inner := &stubSource{}
	source := NewRateLimitedSource(inner, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	// Consume the free first slot, then cancel the queued second call.
	if _, err := source.FetchDetail(ctx, model.ListingReference{ID: "1"}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	cancel()
	if _, err := source.FetchDetail(ctx, model.ListingReference{ID: "2"}); err == nil {
		t.Fatal("expected cancelled wait to fail")
	}
	if len(inner.times) != 1 {
		t.Errorf("expected cancelled call to skip the inner source, got %d calls", len(inner.times))
	}
}
