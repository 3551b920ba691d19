package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoRecordedInvocation is returned by ReplayCaller when no prior successful
// invocation matches the request and no fallback caller is configured.
var ErrNoRecordedInvocation = errors.New("no recorded invocation for request")

// ReplayCaller serves prior successful invocations from the ledger instead of
// calling the model. When fallback is non-nil, unmatched requests go live;
// otherwise they fail. Used for repeatable test runs.
type ReplayCaller struct {
	ledger   Ledger
	fallback Caller // may be nil
}

// NewReplayCaller creates a caller that answers from the ledger first.
func NewReplayCaller(ledger Ledger, fallback Caller) *ReplayCaller {
	return &ReplayCaller{ledger: ledger, fallback: fallback}
}

func (c *ReplayCaller) Call(ctx context.Context, req Request) (Response, error) {
	rec, err := c.ledger.FindInvocation(ctx, req.Fingerprint())
	if err != nil {
		return Response{}, fmt.Errorf("replay lookup: %w", err)
	}
	if rec != nil {
		return Response{
			Text:             rec.Response,
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			Replayed:         true,
		}, nil
	}
	if c.fallback == nil {
		return Response{}, ErrNoRecordedInvocation
	}
	return c.fallback.Call(ctx, req)
}
