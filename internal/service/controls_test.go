package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

func TestControls_StopShrinksBound(t *testing.T) {
	c := NewControls(10)
	c.epochDone()
	c.epochDone()
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.Epochs() != 3 {
		t.Errorf("expected bound 3, got %d", c.Epochs())
	}
	if c.State() != run.StateStopRequested {
		t.Errorf("expected stop_requested, got %s", c.State())
	}

	// A later stop does not extend the bound.
	c.epochDone()
	c.epochDone()
	_ = c.Stop()
	if c.Epochs() != 3 {
		t.Errorf("stop must not extend the bound, got %d", c.Epochs())
	}
}

func TestControls_StopReleasesPause(t *testing.T) {
	c := NewControls(5)
	_ = c.Pause()
	_ = c.Stop()
	if c.Paused() {
		t.Error("stop must release a pause")
	}
}

func TestControls_StopRequestedIsKept(t *testing.T) {
	c := NewControls(5)
	c.setState(run.StateRunning)
	_ = c.Stop()
	if c.setState(run.StateRunning) || c.setState(run.StatePaused) {
		t.Error("running and paused must not overwrite stop_requested")
	}
	if !c.setState(run.StateCompleted) {
		t.Error("completed must be reachable from stop_requested")
	}
	if c.setState(run.StateFailed) {
		t.Error("terminal state must be final")
	}
}

func TestControls_ApplyMerges(t *testing.T) {
	c := NewControls(5)
	three, seven := 3, 7
	pad := run.PadEdge
	if err := c.Apply(run.HotSwap{Epochs: &three}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(run.HotSwap{Epochs: &seven, PaddingMode: &pad}); err != nil {
		t.Fatal(err)
	}
	if c.Epochs() != 5 {
		t.Fatal("swap must not apply before the epoch boundary")
	}

	h, ok := c.takeSwap()
	if !ok || *h.Epochs != 7 || *h.PaddingMode != run.PadEdge {
		t.Fatalf("unexpected swap %+v", h)
	}
	if c.Epochs() != 7 {
		t.Errorf("expected bound 7, got %d", c.Epochs())
	}
	if _, ok := c.takeSwap(); ok {
		t.Error("swap must be consumed")
	}
}

func TestControls_ApplyValidates(t *testing.T) {
	c := NewControls(5)
	zero := 0
	if err := c.Apply(run.HotSwap{Epochs: &zero}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestControls_SaveIsConsumed(t *testing.T) {
	c := NewControls(5)
	_ = c.RequestSave()
	if !c.takeSave() || c.takeSave() {
		t.Error("save request must be consumed once")
	}
}

func TestControls_TerminalRejects(t *testing.T) {
	c := NewControls(5)
	c.setState(run.StateFailed)
	for name, fn := range map[string]func() error{
		"pause":  c.Pause,
		"resume": c.Resume,
		"stop":   c.Stop,
		"save":   c.RequestSave,
	} {
		if err := fn(); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("%s: expected conflict, got %v", name, err)
		}
	}
}

func TestControls_Concurrent(t *testing.T) {
	c := NewControls(100)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = c.Pause()
				_ = c.Resume()
				_ = c.RequestSave()
				_ = c.Epochs()
			}
		}()
	}
	for range 50 {
		c.epochDone()
	}
	wg.Wait()
	if c.Completed() != 50 {
		t.Errorf("expected 50 completed, got %d", c.Completed())
	}
}
