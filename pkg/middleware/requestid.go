package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/marketpulse/transaction-analytics/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an identifier (honoring an incoming
// X-Request-ID header), stores it in the request context for logging, and
// echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
