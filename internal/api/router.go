// Package api provides the HTTP surface of the conversion service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
)

// ServiceName is reported by / and /health.
const ServiceName = "pdf2html-api"

// NewRouter creates the API router with all routes configured. A nil
// Recorder leaves /metrics unmounted.
func NewRouter(logger *observability.Logger, conv Converter, m *metrics.Recorder, version string) http.Handler {
	if logger == nil {
		logger = observability.Nop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	h := NewHandler(logger, conv)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": ServiceName,
			"version": version,
			"endpoints": map[string]string{
				"POST /convert":      "Convert a PDF URL to HTML, JSON response",
				"POST /convert/html": "Convert a PDF URL to HTML, raw HTML response",
				"GET /health":        "Health check",
				"GET /metrics":       "Prometheus metrics",
			},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"` + ServiceName + `"}`))
	})

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Post("/convert", h.Convert)
	r.Post("/convert/html", h.ConvertHTML)

	return r
}

// RequestLogger logs one line per request through the service logger.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := chimiddleware.GetReqID(r.Context())
			if reqID != "" {
				r = r.WithContext(observability.ContextWithRequestID(r.Context(), reqID))
			}

			next.ServeHTTP(ww, r)

			evt := logger.Info()
			if ww.Status() >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
