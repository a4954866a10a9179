package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/pool"
)

func waitHandle(t *testing.T, h *Handle) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("task did not finish")
	}
	return v, err
}

func TestRunner_EventsInOrder(t *testing.T) {
	r := NewRunner(nil, 1)
	var mu sync.Mutex
	var got []string
	add := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	h := r.Submit(context.Background(), "t1", func(_ context.Context, emit *Emitter) (any, error) {
		for i := range 50 {
			emit.Progress(float64(i))
		}
		emit.Notice(event.LevelInfo, "done with %d", 50)
		return "ok", nil
	}, Events{
		OnProgress: func(p float64) { add(fmt.Sprintf("p%.0f", p)) },
		OnNotice:   func(n event.NoticePayload) { add(n.Message) },
		OnResult:   func(v any) { add(fmt.Sprint(v)) },
		OnFinished: func() { add("finished") },
	})

	v, err := waitHandle(t, h)
	if err != nil || v != "ok" {
		t.Fatalf("unexpected result %v, %v", v, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 53 {
		t.Fatalf("expected 53 events, got %d", len(got))
	}
	for i := range 50 {
		if got[i] != fmt.Sprintf("p%d", i) {
			t.Fatalf("event %d out of order: %s", i, got[i])
		}
	}
	if got[50] != "done with 50" || got[51] != "ok" || got[52] != "finished" {
		t.Errorf("unexpected tail %v", got[50:])
	}
}

func TestRunner_ErrorThenFinished(t *testing.T) {
	r := NewRunner(nil, 4)
	var order []string
	var te *TaskError
	h := r.Submit(context.Background(), "t2", func(context.Context, *Emitter) (any, error) {
		return nil, fmt.Errorf("%w: bad epochs", domain.ErrConfiguration)
	}, Events{
		OnError:    func(e *TaskError) { te = e; order = append(order, "error") },
		OnResult:   func(any) { order = append(order, "result") },
		OnFinished: func() { order = append(order, "finished") },
	})

	_, err := waitHandle(t, h)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if te == nil || te.Category != domain.CategoryConfiguration {
		t.Fatalf("unexpected task error %+v", te)
	}
	if len(order) != 2 || order[0] != "error" || order[1] != "finished" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	r := NewRunner(nil, 4)
	var te *TaskError
	finished := 0
	h := r.Submit(context.Background(), "t3", func(context.Context, *Emitter) (any, error) {
		panic("boom")
	}, Events{
		OnError:    func(e *TaskError) { te = e },
		OnFinished: func() { finished++ },
	})

	if _, err := waitHandle(t, h); err == nil {
		t.Fatal("expected error from panicking task")
	}
	if te == nil || te.Category != domain.CategoryInternal || te.Stack == "" {
		t.Fatalf("unexpected task error %+v", te)
	}
	if finished != 1 {
		t.Errorf("expected finished once, got %d", finished)
	}
}

func TestRunner_CallbackPanicDoesNotStopDelivery(t *testing.T) {
	r := NewRunner(nil, 4)
	progress := 0
	finished := false
	h := r.Submit(context.Background(), "t4", func(_ context.Context, emit *Emitter) (any, error) {
		emit.Progress(1)
		emit.Progress(2)
		return nil, nil
	}, Events{
		OnProgress: func(p float64) {
			progress++
			if p == 1 {
				panic("subscriber bug")
			}
		},
		OnFinished: func() { finished = true },
	})

	if _, err := waitHandle(t, h); err != nil {
		t.Fatal(err)
	}
	if progress != 2 || !finished {
		t.Errorf("progress=%d finished=%v", progress, finished)
	}
}

func TestRunner_FailureIsIsolated(t *testing.T) {
	r := NewRunner(nil, 4)
	bad := r.Submit(context.Background(), "bad", func(context.Context, *Emitter) (any, error) {
		panic("boom")
	}, Events{})
	good := r.Submit(context.Background(), "good", func(context.Context, *Emitter) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}, Events{})

	if _, err := waitHandle(t, bad); err == nil {
		t.Fatal("expected failure")
	}
	if v, err := waitHandle(t, good); err != nil || v != 42 {
		t.Fatalf("sibling task affected: %v, %v", v, err)
	}
	r.Wait()
	if r.Active() != 0 {
		t.Errorf("expected no active tasks, got %d", r.Active())
	}
}

func TestRunner_PoolLimit(t *testing.T) {
	r := NewRunner(pool.New("chores", 1), 4)
	var running, peak atomic.Int64
	var handles []*Handle
	for i := range 4 {
		handles = append(handles, r.Submit(context.Background(), fmt.Sprint(i), func(context.Context, *Emitter) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}, Events{}))
	}
	for _, h := range handles {
		if _, err := waitHandle(t, h); err != nil {
			t.Fatal(err)
		}
	}
	if peak.Load() != 1 {
		t.Errorf("expected at most one concurrent task, got %d", peak.Load())
	}
}

func TestRunner_CancelledWhileQueued(t *testing.T) {
	p := pool.New("chores", 1)
	release, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	r := NewRunner(p, 4)
	ctx, cancel := context.WithCancel(context.Background())
	h := r.Submit(ctx, "queued", func(context.Context, *Emitter) (any, error) {
		t.Error("task must not run")
		return nil, nil
	}, Events{})
	cancel()

	if _, err := waitHandle(t, h); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
