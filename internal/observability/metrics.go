package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters for one migr invocation. The CLI is short lived,
// so metrics are written to a node-exporter textfile instead of being served.
type Metrics struct {
	registry   *prometheus.Registry
	executed   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	lastRunEnd prometheus.Gauge
}

// NewMetrics registers the migr collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	executed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migr_migrations_executed_total",
		Help: "Migrations executed by direction.",
	}, []string{"direction"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migr_failures_total",
		Help: "Failed operations by error kind.",
	}, []string{"kind"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migr_migration_duration_seconds",
		Help:    "Time spent executing a single migration script.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"direction"})
	lastRunEnd := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "migr_last_run_timestamp_seconds",
		Help: "Unix time the last migr operation finished.",
	})

	registry.MustRegister(executed, failures, durations, lastRunEnd)

	return &Metrics{
		registry:   registry,
		executed:   executed,
		failures:   failures,
		durations:  durations,
		lastRunEnd: lastRunEnd,
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveMigration(direction string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executed.WithLabelValues(direction).Inc()
	m.durations.WithLabelValues(direction).Observe(elapsed.Seconds())
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) MarkFinished(at time.Time) {
	if m == nil {
		return
	}
	m.lastRunEnd.Set(float64(at.Unix()))
}

// WriteTextfile writes the current values in the Prometheus text format,
// atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
