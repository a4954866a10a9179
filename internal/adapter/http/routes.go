package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws serves
// the live event stream and may be nil.
func MountRoutes(r chi.Router, h *Handlers, ws http.Handler) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})
		r.Get("/environment", h.Environment)

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.StartRun)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/events", h.ListEvents)
		r.Put("/runs/{id}/settings", h.ApplySettings)
		r.Post("/runs/{id}/{action:pause|resume|stop|save|close}", h.ControlRun)

		// Archive
		r.Get("/archive/runs", h.ListArchivedRuns)
		r.Get("/archive/runs/{id}/events", h.ArchivedEvents)
	})
}
