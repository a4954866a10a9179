package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AIDTrainer/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error    string          `json:"error"`
	Category domain.Category `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the error category of err to a status code.
func writeDomainError(w http.ResponseWriter, err error) {
	cat := domain.CategoryOf(err)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch cat {
	case domain.CategoryNotFound:
		status = http.StatusNotFound
	case domain.CategoryConflict:
		status = http.StatusConflict
	case domain.CategoryConfiguration:
		status = http.StatusBadRequest
		msg = strings.TrimPrefix(msg, domain.ErrConfiguration.Error()+": ")
	case domain.CategoryResourceExhausted:
		status = http.StatusUnprocessableEntity
	case domain.CategoryStorageUnavailable:
		status = http.StatusServiceUnavailable
	default:
		slog.Error("unhandled domain error", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Category: cat})
}
