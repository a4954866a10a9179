package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/environment"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
	"github.com/Strob0t/AIDTrainer/internal/service"
)

// Runs is the run registry served by the API.
type Runs interface {
	Start(ctx context.Context, cfg run.Config) (*service.RunInfo, error)
	Get(id string) (*service.RunInfo, error)
	List() []service.RunInfo
	Control(ctx context.Context, id string, action messagequeue.ControlAction, settings *run.HotSwap) error
	Events(ctx context.Context, id string, types ...event.Type) ([]event.TrainingEvent, error)
}

// Archive holds the events of runs persisted by earlier processes.
type Archive interface {
	RunIDs(ctx context.Context, limit int) ([]string, error)
	LoadByRun(ctx context.Context, runID string, types ...event.Type) ([]event.TrainingEvent, error)
}

// Handlers holds the dependencies of the HTTP handlers. Archive and Queue
// may be nil.
type Handlers struct {
	Runs    Runs
	Archive Archive
	Queue   messagequeue.Queue
	Env     environment.Environment
	Version string
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Queue   string `json:"queue"`
}

// Health reports liveness and the message queue connection.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.Version, Queue: "disabled"}
	if h.Queue != nil {
		resp.Queue = "connected"
		if !h.Queue.IsConnected() {
			resp.Queue = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Environment returns the host facts, current load and selectable devices.
func (h *Handlers) Environment(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := environment.Load(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"environment":    h.Env,
		"devices":        h.Env.Devices(),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
	})
}

// ListRuns returns all runs of this process.
func (h *Handlers) ListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Runs.List())
}

// StartRun submits a run configuration.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	cfg, ok := readJSON[run.Config](w, r)
	if !ok {
		return
	}
	if !h.Env.HasDevice(cfg.Device) {
		writeError(w, http.StatusBadRequest, "unknown device "+strconv.Quote(cfg.Device))
		return
	}
	info, err := h.Runs.Start(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// GetRun returns one run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	info, err := h.Runs.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ControlRun applies the action in the URL to a run.
func (h *Handlers) ControlRun(w http.ResponseWriter, r *http.Request) {
	action := messagequeue.ControlAction(urlParam(r, "action"))
	if action == messagequeue.ActionApply {
		writeError(w, http.StatusBadRequest, "use PUT /runs/{id}/settings to apply settings")
		return
	}
	if err := h.Runs.Control(r.Context(), urlParam(r, "id"), action, nil); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplySettings hot-swaps settings of a running run. They take effect after
// the epoch in progress.
func (h *Handlers) ApplySettings(w http.ResponseWriter, r *http.Request) {
	swap, ok := readJSON[run.HotSwap](w, r)
	if !ok {
		return
	}
	if swap.Empty() {
		writeError(w, http.StatusBadRequest, "no settings given")
		return
	}
	if err := h.Runs.Control(r.Context(), urlParam(r, "id"), messagequeue.ActionApply, &swap); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListEvents returns the events of a run. The optional type query parameter
// is a comma separated list of event types.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	var types []event.Type
	if q := r.URL.Query().Get("type"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, event.Type(t))
			}
		}
	}
	events, err := h.Runs.Events(r.Context(), urlParam(r, "id"), types...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []event.TrainingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListArchivedRuns returns the ids of runs in the event archive, newest first.
func (h *Handlers) ListArchivedRuns(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	ids, err := h.Archive.RunIDs(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// ArchivedEvents returns archived events of a run from an earlier process.
func (h *Handlers) ArchivedEvents(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeDomainError(w, domain.ErrNotFound)
		return
	}
	events, err := h.Archive.LoadByRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "run not archived")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
