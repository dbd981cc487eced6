package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jackyman666/momentum-ai-backend/internal/jobs"
	"github.com/Jackyman666/momentum-ai-backend/pkg/types"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "momentum"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted     prometheus.Counter
	jobsFinished      *prometheus.CounterVec
	jobDuration       prometheus.Histogram
	jobEvents         *prometheus.CounterVec
	streamSubscribers prometheus.Gauge
	relayDropped      prometheus.Counter
	plansRequested    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs registered",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		}, []string{"status", "reason"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to its terminal event",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180, 300},
		}),
		jobEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Total number of job events published",
		}, []string{"kind"}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of open event streams",
		}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Job events the relay dropped because its buffer was full",
		}),
		plansRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_requests_total",
			Help:      "Plan generation requests by source and result",
		}, []string{"source", "result"}),
	}

	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobDuration,
		m.jobEvents,
		m.streamSubscribers,
		m.relayDropped,
		m.plansRequested,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobCreated implements jobs.Observer
func (m *Metrics) JobCreated(types.JobView) {
	m.jobsSubmitted.Inc()
}

// EventPublished implements jobs.Observer
func (m *Metrics) EventPublished(view types.JobView, evt jobs.Event) {
	m.jobEvents.WithLabelValues(string(evt.Kind)).Inc()
	if !evt.IsTerminal() {
		return
	}

	reason := string(evt.Reason)
	if reason == "" {
		reason = "none"
	}
	m.jobsFinished.WithLabelValues(string(view.Status), reason).Inc()
	if !view.StartedAt.IsZero() && !view.FinishedAt.IsZero() {
		m.jobDuration.Observe(view.FinishedAt.Sub(view.StartedAt).Seconds())
	}
}

// StreamOpened implements stream.Observer
func (m *Metrics) StreamOpened(string) {
	m.streamSubscribers.Inc()
}

// StreamClosed implements stream.Observer
func (m *Metrics) StreamClosed(string, bool) {
	m.streamSubscribers.Dec()
}

// RecordRelayDropped counts an event the relay could not buffer
func (m *Metrics) RecordRelayDropped() {
	m.relayDropped.Inc()
}

// RecordPlanRequest counts a plan submission. source is http, mcp or queue.
func (m *Metrics) RecordPlanRequest(source, result string) {
	m.plansRequested.WithLabelValues(source, result).Inc()
}
