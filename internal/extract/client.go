package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client issues structured-extraction requests with retry, per-attempt
// timeouts, and durable invocation logging. Retry ownership lives here: once
// an error escapes Extract, callers must not retry it again.
type Client struct {
	caller      Caller
	ledger      Ledger
	model       string
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

// NewClient creates an extraction client.
// maxAttempts is the total attempt count (not additional retries).
// baseDelay is the wait after the first failed attempt, doubled per attempt.
// timeout bounds how long a single attempt may run.
func NewClient(caller Caller, ledger Ledger, model string, maxAttempts int, baseDelay, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		caller:      caller,
		ledger:      ledger,
		model:       model,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		timeout:     timeout,
		logger:      logger,
	}
}

// Extract sends one extraction request and unmarshals the JSON response into
// out. A response that fails to parse is a hard failure for that attempt.
// Every attempt, success or failure, is appended to the ledger.
func (c *Client) Extract(ctx context.Context, content, instructions string, out any) error {
	req := Request{Content: content, Instructions: instructions}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt - 1)
			c.logger.Warn("retrying extraction",
				"attempt", attempt,
				"max_attempts", c.maxAttempts,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("extraction retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := c.attempt(ctx, req, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if errors.Is(err, ErrNoRecordedInvocation) {
			// A ledger miss will not heal on retry.
			return lastErr
		}
	}

	return lastErr
}

// attempt runs one bounded model call and logs its invocation record.
func (c *Client) attempt(ctx context.Context, req Request, out any) error {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.caller.Call(attemptCtx, req)
	latency := time.Since(start)

	if err == nil {
		if parseErr := json.Unmarshal([]byte(resp.Text), out); parseErr != nil {
			err = fmt.Errorf("unparseable extraction response: %w", parseErr)
		}
	}

	// Replayed responses already have a ledger entry; do not log them twice.
	if !resp.Replayed {
		c.record(ctx, req, resp, latency, err)
	}

	return err
}

func (c *Client) record(ctx context.Context, req Request, resp Response, latency time.Duration, callErr error) {
	rec := InvocationRecord{
		ID:               ulid.Make().String(),
		Fingerprint:      req.Fingerprint(),
		Model:            c.model,
		Prompt:           req.Instructions + "\n\n" + req.Content,
		Response:         resp.Text,
		Status:           StatusOK,
		LatencyMS:        latency.Milliseconds(),
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if callErr != nil {
		rec.Status = StatusError
		rec.Error = callErr.Error()
	}

	if err := c.ledger.AppendInvocation(ctx, rec); err != nil {
		c.logger.Error("failed to log invocation", "id", rec.ID, "error", err)
	}
}

// backoffDelay computes baseDelay * 2^(failures-1).
func (c *Client) backoffDelay(failures int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
	}
	return delay
}
