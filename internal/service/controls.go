package service

import (
	"fmt"
	"sync"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// Controls is the control surface of one training run. UI adapters call the
// exported methods from any goroutine; the controller polls them between
// epochs. The run state is owned by the controller: callers only request
// transitions.
type Controls struct {
	mu        sync.Mutex
	state     run.State
	epochs    int // current bound, 0-based exclusive
	stopAt    int // 0 when no stop was requested
	completed int
	paused    bool
	save      bool
	closed    bool
	pending   run.HotSwap
}

// NewControls creates the controls of a run configured for epochs epochs.
func NewControls(epochs int) *Controls {
	return &Controls{state: run.StateInitializing, epochs: epochs}
}

func (c *Controls) checkLive() error {
	if c.state.Terminal() {
		return fmt.Errorf("%w: run is %s", domain.ErrConflict, c.state)
	}
	return nil
}

// Pause blocks further epochs after the current one.
func (c *Controls) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	c.paused = true
	return nil
}

// Resume releases a paused run.
func (c *Controls) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	c.paused = false
	return nil
}

// Stop lets the epoch in flight (or the next one, if none is in flight) finish
// and then ends the run. It never interrupts a fit step.
func (c *Controls) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	bound := c.completed + 1
	if c.stopAt == 0 || bound < c.stopAt {
		c.stopAt = bound
	}
	c.paused = false
	c.state = run.StateStopRequested
	return nil
}

// RequestSave asks for a checkpoint after the next epoch regardless of records.
func (c *Controls) RequestSave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	c.save = true
	return nil
}

// Close signals that the owning window is gone. The run ends at the next
// epoch boundary.
func (c *Controls) Close() {
	c.mu.Lock()
	c.closed = true
	c.paused = false
	c.mu.Unlock()
}

// Apply queues a settings change for the next epoch boundary. Changes queued
// before that boundary are merged, later values winning.
func (c *Controls) Apply(h run.HotSwap) error {
	if err := h.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(); err != nil {
		return err
	}
	c.pending = c.pending.Merge(h)
	return nil
}

// State returns the current run state.
func (c *Controls) State() run.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epochs returns the effective epoch bound.
func (c *Controls) Epochs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundLocked()
}

func (c *Controls) boundLocked() int {
	if c.stopAt > 0 && c.stopAt < c.epochs {
		return c.stopAt
	}
	return c.epochs
}

// Completed returns the number of finished epochs.
func (c *Controls) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Paused reports whether a pause is requested.
func (c *Controls) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Closed reports whether the owning window is gone.
func (c *Controls) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// takeSwap removes and returns the pending hot-swap. An epoch change in the
// swap takes effect here.
func (c *Controls) takeSwap() (run.HotSwap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.pending
	c.pending = run.HotSwap{}
	if h.Empty() {
		return h, false
	}
	if h.Epochs != nil {
		c.epochs = *h.Epochs
	}
	return h, true
}

// takeSave consumes a pending save request.
func (c *Controls) takeSave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.save
	c.save = false
	return s
}

// stopRequested reports whether Stop was called.
func (c *Controls) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopAt > 0
}

// epochDone records a finished epoch.
func (c *Controls) epochDone() {
	c.mu.Lock()
	c.completed++
	c.mu.Unlock()
}

// setState is called by the controller only. Terminal states are final, and a
// requested stop is not overwritten by Running.
func (c *Controls) setState(s run.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() || c.state == s {
		return false
	}
	if c.state == run.StateStopRequested && (s == run.StateRunning || s == run.StatePaused) {
		return false
	}
	c.state = s
	return true
}
