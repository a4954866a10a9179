// Package eventstore defines the port interface for the append-only training event archive.
package eventstore

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
)

// Store appends and loads training events.
type Store interface {
	// Append persists a new event to the store.
	Append(ctx context.Context, ev *event.TrainingEvent) error

	// LoadByRun returns all events of a run ordered by sequence. When types is
	// non-empty only events of those types are returned.
	LoadByRun(ctx context.Context, runID string, types ...event.Type) ([]event.TrainingEvent, error)
}
