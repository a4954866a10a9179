// Package middleware provides HTTP middleware shared by the API routes.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/AIDTrainer/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLength bounds client supplied ids before they reach the logs.
const maxRequestIDLength = 128

// RequestID takes X-Request-ID from the request or generates one. The id is
// stored in the context for log records and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
