package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
)

// member is the sub-run of one model. A plain run has one member; a
// collection run fans the shared batches out to several. A member is owned by
// the run goroutine and never shared.
type member struct {
	path    string
	model   model.Model
	tracker *run.RecordTracker
	policy  *CheckpointPolicy
	meta    *MetaLog
	sched   *optim.Scheduler
	outcome run.MemberOutcome
	failed  bool
}

func newMember(path string, m model.Model, policy *CheckpointPolicy, meta *MetaLog, s optim.Schedule) *member {
	return &member{
		path:    path,
		model:   m,
		tracker: run.NewRecordTracker(),
		policy:  policy,
		meta:    meta,
		sched:   optim.NewScheduler(s),
		outcome: run.MemberOutcome{ModelPath: path},
	}
}

// fail stops the member at epoch.
func (m *member) fail(epoch int, err error) {
	m.failed = true
	m.outcome.FailedAt = epoch
	m.outcome.Error = err.Error()
}

// result returns the member summary.
func (m *member) result() run.MemberOutcome {
	out := m.outcome
	out.Records = m.tracker.Snapshot()
	out.Checkpoints = slices.Clone(m.outcome.Checkpoints)
	return out
}

// live returns the members that have not failed.
func live(members []*member) []*member {
	var out []*member
	for _, m := range members {
		if !m.failed {
			out = append(out, m)
		}
	}
	return out
}

// reconfigure brings a loaded model in line with cfg. It recompiles only when
// the loss, the optimizer kind or the dropout rates differ, or when force is
// set. Compiling resets the optimizer state.
func reconfigure(m model.Model, cfg *run.Config, force bool) (compiled bool, err error) {
	needs := force ||
		m.Loss() != cfg.Loss ||
		!optim.SameOptimizer(m.Optimizer(), cfg.Optimizer.Kind) ||
		(cfg.Dropout != nil && !slices.Equal(m.Dropout(), cfg.Dropout))
	if needs {
		err := m.Compile(model.CompileOptions{
			Loss:      cfg.Loss,
			Optimizer: cfg.Optimizer,
			Metrics:   cfg.Metrics,
			Dropout:   cfg.Dropout,
		})
		if err != nil {
			return false, fmt.Errorf("%w: compile: %v", domain.ErrModelRuntime, err)
		}
	}
	if optim.RateChanged(m.LearningRate(), cfg.Optimizer.LearningRate) {
		m.SetLearningRate(cfg.Optimizer.LearningRate)
	}
	return needs, nil
}

// schedule returns cfg's learning-rate schedule with the cyclic step size
// converted from epochs into batch iterations.
func schedule(cfg *run.Config) optim.Schedule {
	s := cfg.Schedule
	if s.Kind == optim.ScheduleCyclic {
		s.StepSize = optim.CyclicStepSize(s.StepSize, cfg.TrainEvents(), cfg.BatchSize)
	}
	return s
}

// fallbackWarnings reports each fallback directory once per run, no matter
// how many writers switch to it.
type fallbackWarnings struct {
	mu     sync.Mutex
	warned map[string]bool
	notify func(primaryDir, fallbackDir string)
}

func newFallbackWarnings(notify func(primaryDir, fallbackDir string)) *fallbackWarnings {
	return &fallbackWarnings{warned: make(map[string]bool), notify: notify}
}

func (w *fallbackWarnings) warn(primaryDir, fallbackDir string) {
	w.mu.Lock()
	seen := w.warned[fallbackDir]
	w.warned[fallbackDir] = true
	w.mu.Unlock()
	if seen {
		return
	}
	slog.Warn("primary directory unavailable, using fallback", "primary", primaryDir, "fallback", fallbackDir)
	if w.notify != nil {
		w.notify(primaryDir, fallbackDir)
	}
}

// dirs returns the fallback directories in use.
func (w *fallbackWarnings) dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.warned))
	for d := range w.warned {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// closeAll releases every loaded model.
func closeAll(ctx context.Context, members []*member) {
	for _, m := range members {
		if m.model == nil {
			continue
		}
		if err := m.model.Close(); err != nil {
			slog.WarnContext(ctx, "close model failed", "model", m.path, "error", err)
		}
	}
}
