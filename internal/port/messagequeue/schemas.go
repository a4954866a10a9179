package messagequeue

import (
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// ControlPayload is the schema for training.control messages.
type ControlPayload struct {
	RunID    string        `json:"run_id"`
	Action   ControlAction `json:"action"`
	Settings *run.HotSwap  `json:"settings,omitempty"` // only for ActionApply
}

// EventPayload is the schema for training.events.{type} messages.
type EventPayload = event.TrainingEvent

var validActions = map[ControlAction]bool{
	ActionPause:  true,
	ActionResume: true,
	ActionStop:   true,
	ActionSave:   true,
	ActionClose:  true,
	ActionApply:  true,
}
