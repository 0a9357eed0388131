// Package metrics exposes Prometheus collectors for pipeline runs and the HTTP front door.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assess"

// Metrics owns its registry so several instances can coexist in tests.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns      *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	retrievalDegraded prometheus.Counter
	httpRequests      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome and final stage",
			},
			[]string{"outcome", "stage"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		retrievalDegraded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "degraded_total",
				Help:      "Retrievals that fell back to empty context",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RunFinished(outcome, stage string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome, stage).Inc()
}

func (m *Metrics) RetrievalDegraded() {
	if m == nil {
		return
	}
	m.retrievalDegraded.Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
