package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent implements broadcast.Broadcaster. The message type is the
// event type and the payload is the full event.
func (h *Hub) BroadcastEvent(_ context.Context, ev *event.TrainingEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal ws event", "type", ev.Type, "run_id", ev.RunID, "error", err)
		return
	}

	h.BroadcastToRun(ev.RunID, Message{
		Type:    string(ev.Type),
		Payload: json.RawMessage(data),
	})
}
