// Package event defines the TrainingEvent domain entity streamed to UI adapters
// and archived per run.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of training event.
type Type string

const (
	TypeRunStarted  Type = "run.started"
	TypeState       Type = "run.state"
	TypeProgress    Type = "run.progress"
	TypeMetrics     Type = "run.metrics"
	TypeCheckpoint  Type = "run.checkpoint"
	TypeNotice      Type = "run.notice"
	TypeError       Type = "run.error"
	TypeResult      Type = "run.result"
	TypeRunFinished Type = "run.finished"
)

// TrainingEvent is a single immutable event of a training run. Sequence is
// the per-run emission order.
type TrainingEvent struct {
	ID        string          `json:"id,omitempty"`
	RunID     string          `json:"run_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Sequence  int             `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProgressPayload carries the completion percentage of a run.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
}

// MetricsPayload carries the metrics of one epoch for one model.
type MetricsPayload struct {
	ModelPath    string             `json:"model_path"`
	Epoch        int                `json:"epoch"`
	Metrics      map[string]float64 `json:"metrics"`
	LearningRate float64            `json:"learning_rate"`
	Saved        bool               `json:"saved"`
}

// Level is the severity of a notice.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// NoticePayload is a human-readable message for the run log.
type NoticePayload struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload is a structured task failure.
type ErrorPayload struct {
	Category  string `json:"category"`
	Message   string `json:"message"`
	ModelPath string `json:"model_path,omitempty"`
	Epoch     int    `json:"epoch,omitempty"`
}

// StatePayload reports a run state transition.
type StatePayload struct {
	State string `json:"state"`
}
