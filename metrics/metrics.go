// Package metrics exports zone engine and backup sweeper activity as
// Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/storage"
)

const namespace = "bindzone"

// Metrics implements storage.Observer and backup.SweepObserver on its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	rollbacks       *prometheus.CounterVec
	serial          *prometheus.GaugeVec
	externalChanges *prometheus.CounterVec
	sweepRemoved    *prometheus.CounterVec
	sweepErrors     *prometheus.CounterVec
}

var (
	_ storage.Observer     = (*Metrics)(nil)
	_ backup.SweepObserver = (*Metrics)(nil)
)

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Zone operations by outcome. result is ok or the failure reason.",
		}, []string{"zone", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent in a zone operation including the reload.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"zone", "op"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Zone files restored after a rejected reload. result is ok or failed.",
		}, []string{"zone", "result"}),
		serial: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_serial",
			Help:      "SOA serial of the last verified write.",
		}, []string{"zone"}),
		externalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_changes_total",
			Help:      "Zone file edits made outside this process.",
		}, []string{"zone"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "sweep_removed_total",
			Help:      "Snapshots deleted by the retention sweeper.",
		}, []string{"base"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "sweep_errors_total",
			Help:      "Retention sweeps that failed.",
		}, []string{"base"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.duration,
		m.rollbacks,
		m.serial,
		m.externalChanges,
		m.sweepRemoved,
		m.sweepErrors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one engine operation.
func (m *Metrics) ObserveOperation(zone, op string, res *storage.Result, err error) {
	result := "ok"
	if err != nil {
		result = types.Reason(err)
	}
	m.operations.WithLabelValues(zone, op, result).Inc()
	if res == nil {
		return
	}
	m.duration.WithLabelValues(zone, op).Observe(res.Duration.Seconds())

	switch {
	case res.State == storage.StateRolledBack:
		m.rollbacks.WithLabelValues(zone, "ok").Inc()
	case result == types.ReasonRollbackFailed:
		m.rollbacks.WithLabelValues(zone, "failed").Inc()
	case err == nil && res.Bumped:
		m.serial.WithLabelValues(zone).Set(float64(res.Serial))
	}
}

// ObserveExternalChange counts an edit made outside the engine.
func (m *Metrics) ObserveExternalChange(zone string, _ types.Changes) {
	m.externalChanges.WithLabelValues(zone).Inc()
}

// ObserveSweep records one sweeper pass over a zone file's snapshots.
func (m *Metrics) ObserveSweep(base string, removed int, err error) {
	if err != nil {
		m.sweepErrors.WithLabelValues(base).Inc()
	}
	if removed > 0 {
		m.sweepRemoved.WithLabelValues(base).Add(float64(removed))
	}
}
