// Package metrics exposes Prometheus collectors for backup and recovery runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portalbackup"

// Operation label values.
const (
	OperationBackup   = "backup"
	OperationRecovery = "recovery"
	OperationPrune    = "prune"
)

// Status label values.
const (
	StatusSuccess    = "success"
	StatusFailure    = "failure"
	StatusInProgress = "in_progress"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	LastBackupSize       prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	RetentionDeleted     *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Backup, recovery and prune attempts by outcome",
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of backup and recovery attempts",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"operation"}),
		LastBackupSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_backup_size_bytes",
			Help:      "Size of the most recent completed archive",
		}),
		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent completed backup",
		}),
		RetentionDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Archives removed by retention, by location",
		}, []string{"location"}),
	}
}

// Registry returns the private registry, for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation counts one attempt and records its duration. Attempts
// rejected because another one was running are counted but not timed.
func (m *Metrics) ObserveOperation(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	if status != StatusInProgress {
		m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	}
}

// BackupCompleted records the size and completion time of a backup.
func (m *Metrics) BackupCompleted(sizeBytes int64, at time.Time) {
	if m == nil {
		return
	}
	m.LastBackupSize.Set(float64(sizeBytes))
	m.LastSuccessTimestamp.Set(float64(at.Unix()))
}

// RetentionDeletedAdd adds n deletions at location.
func (m *Metrics) RetentionDeletedAdd(location string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.WithLabelValues(location).Add(float64(n))
}
