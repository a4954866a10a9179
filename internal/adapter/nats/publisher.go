package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/logger"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
	"github.com/Strob0t/AIDTrainer/internal/resilience"
)

// EventPublisher forwards training events to training.events.<type>. Publish
// failures trip a circuit breaker so an unreachable server does not slow the
// run down.
type EventPublisher struct {
	queue   messagequeue.Queue
	breaker *resilience.Breaker
}

var _ broadcast.Broadcaster = (*EventPublisher)(nil)

// NewEventPublisher creates an EventPublisher on queue.
func NewEventPublisher(queue messagequeue.Queue) *EventPublisher {
	return &EventPublisher{
		queue:   queue,
		breaker: resilience.NewBreaker("nats-events", 5, 30*time.Second),
	}
}

// Subject returns the subject an event of type t is published to.
func Subject(t event.Type) string {
	return messagequeue.SubjectEvents + "." + string(t)
}

// BroadcastEvent implements broadcast.Broadcaster.
func (p *EventPublisher) BroadcastEvent(ctx context.Context, ev *event.TrainingEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal nats event", "type", ev.Type, "run_id", ev.RunID, "error", err)
		return
	}
	ctx = logger.WithRunID(ctx, ev.RunID)
	err = p.breaker.Execute(func() error {
		return p.queue.Publish(ctx, Subject(ev.Type), data)
	})
	if err != nil {
		slog.Debug("nats event dropped", "type", ev.Type, "run_id", ev.RunID, "error", err)
	}
}

// Dropped returns the number of events skipped while the breaker was open.
func (p *EventPublisher) Dropped() int64 {
	return p.breaker.Rejected()
}
