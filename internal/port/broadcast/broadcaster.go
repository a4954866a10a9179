// Package broadcast defines the port for pushing training events to live subscribers.
package broadcast

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
)

// Broadcaster delivers training events to every connected subscriber.
type Broadcaster interface {
	// BroadcastEvent sends ev to all subscribers. Delivery is best effort.
	BroadcastEvent(ctx context.Context, ev *event.TrainingEvent)
}

// Multi fans an event out to several broadcasters.
type Multi []Broadcaster

// BroadcastEvent implements Broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, ev *event.TrainingEvent) {
	for _, b := range m {
		if b != nil {
			b.BroadcastEvent(ctx, ev)
		}
	}
}
