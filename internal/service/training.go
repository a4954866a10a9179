package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
	"github.com/Strob0t/AIDTrainer/internal/port/eventstore"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
)

// recentEvents bounds the in-memory event history kept per run.
const recentEvents = 1024

// RunInfo is the externally visible view of a training run.
type RunInfo struct {
	ID         string       `json:"id"`
	Name       string       `json:"name,omitempty"`
	Models     []string     `json:"models"`
	State      run.State    `json:"state"`
	Progress   float64      `json:"progress"`
	Epochs     int          `json:"epochs"`
	Completed  int          `json:"completed"`
	Paused     bool         `json:"paused"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	Outcome    *run.Outcome `json:"outcome,omitempty"`
}

// trainingRun is the registry entry of one submitted run.
type trainingRun struct {
	id       string
	cfg      run.Config
	controls *Controls
	handle   *Handle
	started  time.Time

	mu       sync.Mutex
	seq      int
	progress float64
	outcome  *run.Outcome
	errMsg   string
	finished *time.Time
	recent   []event.TrainingEvent
}

// TrainingService is the registry of training runs. It submits runs to the
// Runner, streams their events to live subscribers and the archive, and routes
// control requests from the UI adapters to the run controls.
type TrainingService struct {
	ctrl   *Controller
	runner *Runner
	hub    broadcast.Broadcaster
	events eventstore.Store
	queue  messagequeue.Queue

	mu   sync.RWMutex
	runs map[string]*trainingRun
}

// NewTrainingService creates a TrainingService. hub, events and queue may be nil.
func NewTrainingService(ctrl *Controller, runner *Runner, hub broadcast.Broadcaster, events eventstore.Store, queue messagequeue.Queue) *TrainingService {
	return &TrainingService{
		ctrl:   ctrl,
		runner: runner,
		hub:    hub,
		events: events,
		queue:  queue,
		runs:   make(map[string]*trainingRun),
	}
}

// Start validates cfg and submits a new run. The run outlives ctx.
func (s *TrainingService) Start(ctx context.Context, cfg run.Config) (*RunInfo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate run config: %w", err)
	}

	tr := &trainingRun{
		id:       uuid.New().String(),
		cfg:      cfg.Clone(),
		controls: NewControls(cfg.Epochs),
		started:  time.Now().UTC(),
	}
	runCtx := context.WithoutCancel(ctx)
	s.record(runCtx, tr, event.TypeRunStarted, map[string]any{"name": cfg.Name, "models": cfg.Members(), "epochs": cfg.Epochs})

	task := func(ctx context.Context, emit *Emitter) (any, error) {
		out, err := s.ctrl.Run(ctx, RunRequest{ID: tr.id, Config: tr.cfg, Controls: tr.controls}, emit)
		tr.mu.Lock()
		tr.outcome = out
		tr.mu.Unlock()
		return out, err
	}
	tr.handle = s.runner.Submit(runCtx, tr.id, task, s.eventsFor(runCtx, tr))

	s.mu.Lock()
	s.runs[tr.id] = tr
	s.mu.Unlock()

	slog.Info("training run submitted", "run_id", tr.id, "models", len(cfg.Members()), "epochs", cfg.Epochs)
	info := s.info(tr)
	return &info, nil
}

// eventsFor wires the task callbacks of tr to the event stream.
func (s *TrainingService) eventsFor(ctx context.Context, tr *trainingRun) Events {
	return Events{
		OnProgress: func(p float64) {
			tr.mu.Lock()
			tr.progress = p
			tr.mu.Unlock()
			s.record(ctx, tr, event.TypeProgress, event.ProgressPayload{Percent: p})
		},
		OnMetrics: func(m event.MetricsPayload) {
			s.record(ctx, tr, event.TypeMetrics, m)
		},
		OnCheckpoint: func(c run.CheckpointEvent) {
			s.record(ctx, tr, event.TypeCheckpoint, c)
		},
		OnNotice: func(n event.NoticePayload) {
			s.record(ctx, tr, event.TypeNotice, n)
		},
		OnState: func(st run.State) {
			s.record(ctx, tr, event.TypeState, event.StatePayload{State: string(st)})
		},
		OnError: func(te *TaskError) {
			if te.ModelPath == "" {
				tr.mu.Lock()
				tr.errMsg = te.Message
				tr.mu.Unlock()
			}
			s.record(ctx, tr, event.TypeError, event.ErrorPayload{
				Category:  string(te.Category),
				Message:   te.Message,
				ModelPath: te.ModelPath,
				Epoch:     te.Epoch,
			})
		},
		OnResult: func(v any) {
			s.record(ctx, tr, event.TypeResult, v)
		},
		OnFinished: func() {
			now := time.Now().UTC()
			tr.mu.Lock()
			tr.finished = &now
			tr.mu.Unlock()
			s.record(ctx, tr, event.TypeRunFinished, event.StatePayload{State: string(tr.controls.State())})
		},
	}
}

// record numbers, keeps, archives and broadcasts one event of tr.
func (s *TrainingService) record(ctx context.Context, tr *trainingRun, typ event.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal training event payload", "type", typ, "run_id", tr.id, "error", err)
		return
	}

	tr.mu.Lock()
	tr.seq++
	ev := event.TrainingEvent{
		ID:        uuid.New().String(),
		RunID:     tr.id,
		Type:      typ,
		Payload:   data,
		Sequence:  tr.seq,
		CreatedAt: time.Now().UTC(),
	}
	tr.recent = append(tr.recent, ev)
	if len(tr.recent) > recentEvents {
		tr.recent = slices.Clone(tr.recent[len(tr.recent)-recentEvents:])
	}
	tr.mu.Unlock()

	if s.events != nil {
		if err := s.events.Append(ctx, &ev); err != nil {
			slog.Error("failed to append training event", "type", typ, "run_id", tr.id, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, &ev)
	}
}

func (s *TrainingService) get(id string) (*trainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return tr, nil
}

func (s *TrainingService) info(tr *trainingRun) RunInfo {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return RunInfo{
		ID:         tr.id,
		Name:       tr.cfg.Name,
		Models:     slices.Clone(tr.cfg.Members()),
		State:      tr.controls.State(),
		Progress:   tr.progress,
		Epochs:     tr.controls.Epochs(),
		Completed:  tr.controls.Completed(),
		Paused:     tr.controls.Paused(),
		StartedAt:  tr.started,
		FinishedAt: tr.finished,
		Error:      tr.errMsg,
		Outcome:    tr.outcome,
	}
}

// Get returns the run with the given id.
func (s *TrainingService) Get(id string) (*RunInfo, error) {
	tr, err := s.get(id)
	if err != nil {
		return nil, err
	}
	info := s.info(tr)
	return &info, nil
}

// List returns all runs, oldest first.
func (s *TrainingService) List() []RunInfo {
	s.mu.RLock()
	runs := make([]*trainingRun, 0, len(s.runs))
	for _, tr := range s.runs {
		runs = append(runs, tr)
	}
	s.mu.RUnlock()

	out := make([]RunInfo, 0, len(runs))
	for _, tr := range runs {
		out = append(out, s.info(tr))
	}
	slices.SortFunc(out, func(a, b RunInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Control applies a UI request to a run.
func (s *TrainingService) Control(ctx context.Context, id string, action messagequeue.ControlAction, settings *run.HotSwap) error {
	tr, err := s.get(id)
	if err != nil {
		return err
	}
	switch action {
	case messagequeue.ActionPause:
		err = tr.controls.Pause()
	case messagequeue.ActionResume:
		err = tr.controls.Resume()
	case messagequeue.ActionStop:
		err = tr.controls.Stop()
	case messagequeue.ActionSave:
		err = tr.controls.RequestSave()
	case messagequeue.ActionClose:
		tr.controls.Close()
	case messagequeue.ActionApply:
		if settings == nil {
			return fmt.Errorf("%w: apply needs settings", domain.ErrConfiguration)
		}
		err = tr.controls.Apply(*settings)
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrConfiguration, action)
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "run control applied", "run_id", id, "action", action)
	s.record(ctx, tr, event.TypeNotice, event.NoticePayload{
		Level:   event.LevelInfo,
		Message: fmt.Sprintf("%s requested", action),
	})
	return nil
}

// Events returns the events of a run ordered by sequence, from the archive
// when one is configured.
func (s *TrainingService) Events(ctx context.Context, id string, types ...event.Type) ([]event.TrainingEvent, error) {
	tr, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		return s.events.LoadByRun(ctx, id, types...)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]event.TrainingEvent, 0, len(tr.recent))
	for _, ev := range tr.recent {
		if len(types) == 0 || slices.Contains(types, ev.Type) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Wait blocks until the run has finished and returns its outcome.
func (s *TrainingService) Wait(ctx context.Context, id string) (*run.Outcome, error) {
	tr, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if tr.handle == nil {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	_, err = tr.handle.Wait(ctx)
	tr.mu.Lock()
	out := tr.outcome
	tr.mu.Unlock()
	return out, err
}

// StartSubscribers consumes control requests from the message queue.
// Returns cancel functions for each subscription.
func (s *TrainingService) StartSubscribers(ctx context.Context) ([]func(), error) {
	if s.queue == nil {
		return nil, nil
	}
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectControl, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.ControlPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal control payload: %w", err)
		}
		return s.Control(msgCtx, p.RunID, p.Action, p.Settings)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe control: %w", err)
	}
	return []func(){cancel}, nil
}

// Shutdown closes every live run and waits for the runner to drain.
func (s *TrainingService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, tr := range s.runs {
		tr.controls.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
