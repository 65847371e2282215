// Package metrics exposes Prometheus collectors for the conversion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every pipeline collector on its own registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// Counters
	PagesTotal      *prometheus.CounterVec
	ModelCallsTotal *prometheus.CounterVec
	CacheTotal      *prometheus.CounterVec

	// Gauges
	PagesInFlight prometheus.Gauge

	// Histograms
	PageAttempts       prometheus.Histogram
	ConversionDuration *prometheus.HistogramVec
}

// New creates a Recorder registered on a fresh registry, together with the
// standard Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		PagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf2html_pages_total",
				Help: "Total number of pages that reached a terminal state",
			},
			[]string{"state"}, // succeeded, failed
		),

		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf2html_model_calls_total",
				Help: "Total number of remote model calls by result",
			},
			[]string{"result"}, // ok or an error kind
		),

		CacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf2html_fragment_cache_total",
				Help: "Fragment cache lookups by result",
			},
			[]string{"result"}, // hit, miss, error
		),

		PagesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdf2html_pages_in_flight",
				Help: "Current number of pages holding a concurrency slot",
			},
		),

		PageAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdf2html_page_attempts",
				Help:    "Remote calls made per page",
				Buckets: prometheus.LinearBuckets(1, 1, 6),
			},
		),

		// Buckets: 0.5s to ~17min
		ConversionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdf2html_conversion_duration_seconds",
				Help:    "End-to-end conversion job duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"status"}, // ok, cancelled, error
		),
	}
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// PageStarted marks a page as holding a concurrency slot.
func (r *Recorder) PageStarted() {
	if r == nil {
		return
	}
	r.PagesInFlight.Inc()
}

// PageFinished releases the in-flight mark and records the terminal state.
func (r *Recorder) PageFinished(state string, attempts int) {
	if r == nil {
		return
	}
	r.PagesInFlight.Dec()
	r.PagesTotal.WithLabelValues(state).Inc()
	r.PageAttempts.Observe(float64(attempts))
}

// ModelCall records one remote call outcome.
func (r *Recorder) ModelCall(result string) {
	if r == nil {
		return
	}
	r.ModelCallsTotal.WithLabelValues(result).Inc()
}

// CacheLookup records one fragment cache lookup.
func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.CacheTotal.WithLabelValues(result).Inc()
}

// ConversionFinished records the duration of one job.
func (r *Recorder) ConversionFinished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.ConversionDuration.WithLabelValues(status).Observe(d.Seconds())
}
