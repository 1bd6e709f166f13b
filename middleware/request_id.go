package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is echoed back to callers for correlation
const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a UUID, stores it in the context and
// echoes it in the response headers. An incoming X-Request-ID is honored.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
