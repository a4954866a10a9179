package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ eventstore.Store = (*EventStore)(nil)

// Append inserts a new event into the training_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.TrainingEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_events (id, run_id, event_type, sequence, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RunID, string(ev.Type), ev.Sequence, jsonOrEmpty(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s of run %s: %w", ev.Type, ev.RunID, err)
	}
	return nil
}

// eventColumns is the SELECT column list for training_events queries.
const eventColumns = `id, run_id, event_type, sequence, payload, created_at`

func scanEvent(scanner scannable, ev *event.TrainingEvent) error {
	var typ string
	if err := scanner.Scan(&ev.ID, &ev.RunID, &typ, &ev.Sequence, &ev.Payload, &ev.CreatedAt); err != nil {
		return err
	}
	ev.Type = event.Type(typ)
	return nil
}

// LoadByRun returns the events of a run ordered by sequence, optionally
// restricted to the given types.
func (s *EventStore) LoadByRun(ctx context.Context, runID string, types ...event.Type) ([]event.TrainingEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM training_events WHERE run_id = $1`, eventColumns)
	args := []any{runID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND event_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.TrainingEvent
	for rows.Next() {
		var ev event.TrainingEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RunIDs returns the ids of all archived runs, most recent first.
func (s *EventStore) RunIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id FROM training_events GROUP BY run_id ORDER BY MAX(created_at) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
