package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/logger"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
)

type published struct {
	subject string
	runID   string
	data    []byte
}

type recordingQueue struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (q *recordingQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, published{subject: subject, runID: logger.RunID(ctx), data: data})
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

func TestEventPublisher_Subjects(t *testing.T) {
	q := &recordingQueue{}
	p := NewEventPublisher(q)

	p.BroadcastEvent(context.Background(), &event.TrainingEvent{
		RunID:    "r1",
		Type:     event.TypeCheckpoint,
		Payload:  json.RawMessage(`{"epoch":3}`),
		Sequence: 7,
	})

	if len(q.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.msgs))
	}
	m := q.msgs[0]
	if m.subject != "training.events.run.checkpoint" {
		t.Errorf("subject = %q", m.subject)
	}
	if m.runID != "r1" {
		t.Errorf("run id = %q, want r1", m.runID)
	}
	if err := messagequeue.Validate(m.subject, m.data); err != nil {
		t.Errorf("published payload fails validation: %v", err)
	}
	var ev event.TrainingEvent
	if err := json.Unmarshal(m.data, &ev); err != nil || ev.Sequence != 7 {
		t.Errorf("unexpected payload %s (%v)", m.data, err)
	}
}

func TestEventPublisher_BreakerDropsWhenDown(t *testing.T) {
	q := &recordingQueue{err: errors.New("connection refused")}
	p := NewEventPublisher(q)

	for i := range 10 {
		p.BroadcastEvent(context.Background(), &event.TrainingEvent{RunID: "r1", Type: event.TypeProgress, Sequence: i + 1})
	}
	if got := p.Dropped(); got != 5 {
		t.Errorf("expected 5 events dropped by the open breaker, got %d", got)
	}
}
