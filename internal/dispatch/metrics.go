package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for dispatched runs and steps.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec
	runs         *prometheus.CounterVec
	stepsActive  prometheus.Gauge
}

// NewMetrics registers the dispatcher collectors with reg. Collectors that
// are already registered are reused, so tests may construct several
// dispatchers against one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "dispatch",
			Name:      "step_duration_seconds",
			Help:      "Duration of plan steps by role and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"role", "status"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "dispatch",
			Name:      "step_retries_total",
			Help:      "Retries of plan steps after transient failures.",
		}, []string{"role", "kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Executed plans by shape and outcome.",
		}, []string{"shape", "status"}),
		stepsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorum",
			Subsystem: "dispatch",
			Name:      "steps_active",
			Help:      "Plan steps currently holding a concurrency slot.",
		}),
	}

	if err := reg.Register(m.stepDuration); err != nil {
		m.stepDuration = existing(err).(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.stepRetries); err != nil {
		m.stepRetries = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.runs); err != nil {
		m.runs = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.stepsActive); err != nil {
		m.stepsActive = existing(err).(prometheus.Gauge)
	}
	return m
}

func existing(err error) prometheus.Collector {
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return already.ExistingCollector
	}
	panic(err)
}

func (m *Metrics) observeStep(role, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(role, status).Observe(d.Seconds())
}

func (m *Metrics) incRetry(role, kind string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(role, kind).Inc()
}

func (m *Metrics) incRun(shape, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(shape, status).Inc()
}

func (m *Metrics) stepStarted() {
	if m == nil {
		return
	}
	m.stepsActive.Inc()
}

func (m *Metrics) stepFinished() {
	if m == nil {
		return
	}
	m.stepsActive.Dec()
}
