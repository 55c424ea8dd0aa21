package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/telefleet/authgate/internal/logging"
)

// HTTPLogging creates a middleware that logs requests and responses at
// DEBUG level. Bodies are never logged: issue and registry requests carry
// secrets and verification evidence. Sensitive headers are masked.
func HTTPLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusCapture{ResponseWriter: w, statusCode: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			logger.Debug("http request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"url", r.URL.Path,
				"query_params", r.URL.RawQuery,
				"headers", maskHeaders(r.Header),
				"status_code", rec.statusCode,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

// maskHeaders masks sensitive header values
func maskHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			result[k] = logging.MaskHeader(k, v[0])
		}
	}
	return result
}

// statusCapture records the response status code for logging.
type statusCapture struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusCapture) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
