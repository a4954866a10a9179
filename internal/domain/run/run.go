// Package run defines the training-run domain: configuration, run state,
// epoch records, checkpoint events and the metric record tracker.
package run

import "time"

// State represents the current state of a training run.
type State string

const (
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StatePaused        State = "paused"
	StateStopRequested State = "stop_requested"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// EpochRecord is one row of training history.
type EpochRecord struct {
	Epoch        int                `json:"epoch"` // 1-based
	Metrics      map[string]float64 `json:"metrics"`
	Elapsed      time.Duration      `json:"elapsed"` // since the run started
	LearningRate float64            `json:"learning_rate"`
	Saved        bool               `json:"saved"`
}

// CheckpointReason explains why a checkpoint was written.
type CheckpointReason string

const (
	ReasonRecordBroken  CheckpointReason = "record_broken"
	ReasonUserRequested CheckpointReason = "user_requested"
)

// CheckpointEvent instructs the controller to persist the model.
type CheckpointEvent struct {
	Epoch  int              `json:"epoch"`
	Path   string           `json:"path"`
	Reason CheckpointReason `json:"reason"`
}

// ParametersRow is one settings snapshot of a run. EpochStarted is the first
// epoch trained with these settings.
type ParametersRow struct {
	EpochStarted int       `json:"epoch_started"`
	Settings     Config    `json:"settings"`
	Host         string    `json:"host,omitempty"`
	CPU          string    `json:"cpu,omitempty"`
	Time         time.Time `json:"time"`
}

// MemberOutcome summarises one model of a run.
type MemberOutcome struct {
	ModelPath   string             `json:"model_path"`
	Epochs      int                `json:"epochs"`
	Records     map[string]float64 `json:"records"`
	Checkpoints []CheckpointEvent  `json:"checkpoints"`
	FailedAt    int                `json:"failed_at,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Outcome is the result of a finished run.
type Outcome struct {
	RunID       string          `json:"run_id"`
	State       State           `json:"state"`
	Epochs      int             `json:"epochs"`
	Interrupted bool            `json:"interrupted"`
	Fallback    bool            `json:"fallback"`
	Error       string          `json:"error,omitempty"`
	Members     []MemberOutcome `json:"members"`
}
