package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// Status is the orchestrator's run state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// control implements the run-control state machine:
// idle → running → {paused ⇄ running} → {completed | stopped | failed}.
// Pause and stop are cooperative: the run loop observes them at batch
// boundaries only. A paused loop blocks on the resume channel rather than
// polling a flag.
type control struct {
	mu            sync.Mutex
	status        Status
	stopRequested bool
	resume        chan struct{} // non-nil while paused; closed on resume
}

func newControl() *control {
	return &control{status: StatusIdle}
}

// start transitions into running. Fails when a run is already in flight.
func (c *control) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning || c.status == StatusPaused {
		return fmt.Errorf("run already in progress (status %s)", c.status)
	}
	c.status = StatusRunning
	c.stopRequested = false
	c.resume = nil
	return nil
}

// finish records the terminal status.
func (c *control) finish(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
}

// Status reports the current run state.
func (c *control) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Pause requests a cooperative pause. In-flight batch work is not
// interrupted; only the next batch wait-point blocks.
func (c *control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return
	}
	c.status = StatusPaused
	c.resume = make(chan struct{})
}

// Resume unblocks a paused run. Resume after stop is not a supported
// transition; once stopped, a new run is required.
func (c *control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPaused {
		return
	}
	c.status = StatusRunning
	close(c.resume)
	c.resume = nil
}

// Stop requests a stop. The run loop finishes the in-flight batch, then
// halts before starting the next one. Stop also releases a paused loop.
func (c *control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning && c.status != StatusPaused {
		return
	}
	c.stopRequested = true
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
		c.status = StatusRunning
	}
}

// stopped reports whether a stop has been requested.
func (c *control) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// waitIfPaused blocks while the run is paused. Returns the context error if
// cancelled while waiting.
func (c *control) waitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.stopRequested || c.resume == nil {
			c.mu.Unlock()
			return nil
		}
		ch := c.resume
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
