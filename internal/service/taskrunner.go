package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/pool"
)

// TaskError is the structured form of a background task failure.
type TaskError struct {
	Category  domain.Category
	Message   string
	ModelPath string // set when the failure belongs to one collection member
	Epoch     int
	Stack     string // set for recovered panics
	Err       error
}

func (e *TaskError) Error() string { return e.Message }

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError converts err into a TaskError.
func NewTaskError(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Category: domain.CategoryOf(err), Message: err.Error(), Err: err}
}

// Events are the callbacks of one submitted task. Nil callbacks are skipped.
// All callbacks of a task run on one dispatcher goroutine in emission order;
// OnFinished is always the last one and fires exactly once.
type Events struct {
	OnProgress   func(percent float64)
	OnMetrics    func(m event.MetricsPayload)
	OnCheckpoint func(c run.CheckpointEvent)
	OnNotice     func(n event.NoticePayload)
	OnState      func(s run.State)
	OnError      func(err *TaskError)
	OnResult     func(v any)
	OnFinished   func()
}

// Emitter is handed to a running task to publish events.
type Emitter struct {
	ch chan func(*Events)
}

func (e *Emitter) send(fn func(*Events)) {
	if e == nil {
		return
	}
	e.ch <- fn
}

// Progress reports completion in percent.
func (e *Emitter) Progress(percent float64) {
	e.send(func(ev *Events) {
		if ev.OnProgress != nil {
			ev.OnProgress(percent)
		}
	})
}

// Metrics reports one epoch of one model.
func (e *Emitter) Metrics(m event.MetricsPayload) {
	e.send(func(ev *Events) {
		if ev.OnMetrics != nil {
			ev.OnMetrics(m)
		}
	})
}

// Checkpoint reports a saved model.
func (e *Emitter) Checkpoint(c run.CheckpointEvent) {
	e.send(func(ev *Events) {
		if ev.OnCheckpoint != nil {
			ev.OnCheckpoint(c)
		}
	})
}

// Notice reports a message for the run log.
func (e *Emitter) Notice(level event.Level, format string, args ...any) {
	n := event.NoticePayload{Level: level, Message: fmt.Sprintf(format, args...)}
	e.send(func(ev *Events) {
		if ev.OnNotice != nil {
			ev.OnNotice(n)
		}
	})
}

// State reports a run state transition.
func (e *Emitter) State(s run.State) {
	e.send(func(ev *Events) {
		if ev.OnState != nil {
			ev.OnState(s)
		}
	})
}

// Error reports a failure that does not end the task, such as one failed
// member of a collection.
func (e *Emitter) Error(te *TaskError) {
	e.send(func(ev *Events) {
		if ev.OnError != nil {
			ev.OnError(te)
		}
	})
}

// Task is the body of a background job.
type Task func(ctx context.Context, emit *Emitter) (any, error)

// Handle tracks one submitted task.
type Handle struct {
	ID     string
	done   chan struct{}
	result any
	err    *TaskError
}

// Done is closed after OnFinished has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task has finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		if h.err != nil {
			return h.result, h.err
		}
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Runner executes tasks in the background on a bounded pool.
type Runner struct {
	pool   *pool.Pool
	buffer int
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewRunner creates a Runner. buffer is the per-task event queue length;
// a full queue blocks the task until the dispatcher catches up.
func NewRunner(p *pool.Pool, buffer int) *Runner {
	return &Runner{pool: p, buffer: max(buffer, 1)}
}

// Active returns the number of submitted tasks that have not finished.
func (r *Runner) Active() int64 { return r.active.Load() }

// Submit starts task in the background and returns immediately.
func (r *Runner) Submit(ctx context.Context, id string, task Task, events Events) *Handle {
	h := &Handle{ID: id, done: make(chan struct{})}
	emit := &Emitter{ch: make(chan func(*Events), r.buffer)}
	ev := events

	r.wg.Add(1)
	r.active.Add(1)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for fn := range emit.ch {
			safeCallback(id, func() { fn(&ev) })
		}
	}()

	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		defer close(h.done)

		result, err := r.execute(ctx, id, task, emit)
		if err != nil {
			h.err = NewTaskError(err)
			te := h.err
			emit.send(func(ev *Events) {
				if ev.OnError != nil {
					ev.OnError(te)
				}
			})
		} else {
			h.result = result
			emit.send(func(ev *Events) {
				if ev.OnResult != nil {
					ev.OnResult(result)
				}
			})
		}
		emit.send(func(ev *Events) {
			if ev.OnFinished != nil {
				ev.OnFinished()
			}
		})
		close(emit.ch)
		<-dispatched
	}()

	return h
}

// execute runs task inside a pool slot and converts panics into errors.
func (r *Runner) execute(ctx context.Context, id string, task Task, emit *Emitter) (result any, err error) {
	release, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s pool: %w", r.pool.Name(), err)
	}
	defer release()

	defer func() {
		if p := recover(); p != nil {
			stack := string(debug.Stack())
			slog.Error("task panicked", "task_id", id, "panic", p)
			err = &TaskError{
				Category: domain.CategoryInternal,
				Message:  fmt.Sprintf("panic: %v", p),
				Stack:    stack,
			}
		}
	}()
	return task(ctx, emit)
}

// safeCallback keeps a misbehaving subscriber from killing the dispatcher.
func safeCallback(id string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("task event callback panicked", "task_id", id, "panic", p)
		}
	}()
	fn()
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() { r.wg.Wait() }
