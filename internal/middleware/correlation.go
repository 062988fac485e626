// Package middleware provides HTTP middleware for the gateway
package middleware

import (
	"net/http"
	"time"

	"github.com/sgajbi/advisor-experience-api/internal/logging"
)

// CorrelationMiddleware tags every request with a correlation id and logs it
// once it completes.
type CorrelationMiddleware struct {
	logger *logging.Logger
}

// NewCorrelationMiddleware creates a new correlation middleware
func NewCorrelationMiddleware(logger *logging.Logger) *CorrelationMiddleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CorrelationMiddleware{logger: logger}
}

// Handler returns the correlation middleware handler
func (m *CorrelationMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse the caller's id or mint corr_<12 hex>
		correlationID := logging.ResolveCorrelationID(r.Header.Get(logging.CorrelationHeader))
		ctx := logging.WithCorrelationID(r.Context(), correlationID)

		w.Header().Set(logging.CorrelationHeader, correlationID)

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
