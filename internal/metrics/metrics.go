// Package metrics holds the Prometheus collectors for the evaluation,
// quality, escalation and pipeline paths. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	verdicts            *prometheus.CounterVec
	phaseLatency        *prometheus.HistogramVec
	qualityRuns         *prometheus.CounterVec
	qualityScore        *prometheus.GaugeVec
	escalations         *prometheus.CounterVec
	pipelineTransitions *prometheus.CounterVec
	upstreamErrors      *prometheus.CounterVec
	httpRequests        *prometheus.HistogramVec
	eventsDropped       prometheus.Counter
	gatherer            prometheus.Gatherer
}

// New registers every collector with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_verdicts_total",
				Help: "Combined verdicts per evaluation phase.",
			},
			[]string{"phase", "verdict"},
		),
		phaseLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_phase_duration_seconds",
				Help:    "Time to run all engines for one phase.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"phase"},
		),
		qualityRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_quality_runs_total",
				Help: "Quality runs by verdict.",
			},
			[]string{"run_type", "verdict"},
		),
		qualityScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warden_quality_overall_score",
				Help: "Latest overall quality score (ratio) per dataset.",
			},
			[]string{"dataset_id"},
		),
		escalations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_escalations_total",
				Help: "Review items created, by source and severity.",
			},
			[]string{"source", "severity"},
		),
		pipelineTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_pipeline_transitions_total",
				Help: "Pipeline status changes.",
			},
			[]string{"status"},
		),
		upstreamErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_upstream_errors_total",
				Help: "Generation backend failures by error code.",
			},
			[]string{"code"},
		),
		httpRequests: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		eventsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_request_logs_dropped_total",
				Help: "Request log events dropped because the write buffer was full.",
			},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePhase(phase, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(phase, verdict).Inc()
	m.phaseLatency.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ObserveQualityRun(datasetID, runType, verdict string, overall float64) {
	if m == nil {
		return
	}
	m.qualityRuns.WithLabelValues(runType, verdict).Inc()
	m.qualityScore.WithLabelValues(datasetID).Set(overall)
}

func (m *Metrics) IncEscalation(source, severity string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(source, severity).Inc()
}

func (m *Metrics) IncPipelineTransition(status string) {
	if m == nil {
		return
	}
	m.pipelineTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncUpstreamError(code string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveHTTP(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Observe(d.Seconds())
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
