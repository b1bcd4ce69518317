// Package metrics exposes Prometheus instrumentation for the grading pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Audio normalization outcomes.
const (
	AudioWAV       = "wav"
	AudioFallback  = "fallback"
	AudioNone      = "none"
	AudioMalformed = "malformed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	audioNormalized    *prometheus.CounterVec
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequiz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicequiz_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		),
		audioNormalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequiz_audio_normalized_total",
				Help: "Audio normalization attempts by outcome",
			},
			[]string{"result"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequiz_evaluations_total",
				Help: "Evaluation runs by outcome",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voicequiz_evaluation_duration_seconds",
				Help:    "Duration of evaluation runs",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.audioNormalized,
		m.evaluations,
		m.evaluationDuration,
	)
	return m
}

// AudioNormalized counts one normalization outcome.
func (m *Metrics) AudioNormalized(result string) {
	if m == nil {
		return
	}
	m.audioNormalized.WithLabelValues(result).Inc()
}

// EvaluationDone records the outcome and duration of one evaluation run.
func (m *Metrics) EvaluationDone(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.evaluationDuration.Observe(elapsed.Seconds())
}

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
