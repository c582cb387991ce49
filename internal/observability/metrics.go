package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exposed by the node and client.
type Metrics struct {
	// Request service metrics (node)
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec

	// Storage metrics (node)
	ChunksPersistedTotal  prometheus.Counter
	ChunksCorruptedTotal  prometheus.Counter
	ChunksDeletedTotal    *prometheus.CounterVec
	DiskSpaceUsedBytes    prometheus.Gauge
	DatabaseOperationsTotal *prometheus.CounterVec

	// Background schedule metrics (node)
	ScheduleRunsTotal    *prometheus.CounterVec
	ScheduleFailuresTotal *prometheus.CounterVec
	ScheduleRunDuration  *prometheus.HistogramVec

	// Client operation metrics
	BackupOperationsTotal *prometheus.CounterVec
	BackupOperationDuration *prometheus.HistogramVec

	// Active connections counter (atomic for thread-safety)
	activeConnections int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_requests_total",
				Help: "Total requests handled by the node request service, by message kind and result",
			},
			[]string{"kind", "result"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redbackup_request_duration_seconds",
				Help:    "Node request handling latency, by message kind",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"kind"},
		),

		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "redbackup_connections_active",
				Help: "Currently open client/peer connections on the node",
			},
		),

		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_connections_total",
				Help: "Total accepted connections, by result",
			},
			[]string{"result"},
		),

		ChunksPersistedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "redbackup_chunks_persisted_total",
				Help: "Total chunks newly written to the blob store",
			},
		),

		ChunksCorruptedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "redbackup_chunks_corrupted_total",
				Help: "Total chunks found corrupted by integrity verification",
			},
		),

		ChunksDeletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_chunks_deleted_total",
				Help: "Total chunks deleted from the blob store, by reason",
			},
			[]string{"reason"},
		),

		DiskSpaceUsedBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "redbackup_disk_space_used_bytes",
				Help: "Disk space used by the blob store",
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_database_operations_total",
				Help: "Metadata table operation count, by operation and result",
			},
			[]string{"operation", "result"},
		),

		ScheduleRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_schedule_runs_total",
				Help: "Total background task runs, by task",
			},
			[]string{"task"},
		),

		ScheduleFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_schedule_failures_total",
				Help: "Total background task runs that encountered an error, by task",
			},
			[]string{"task"},
		),

		ScheduleRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redbackup_schedule_run_duration_seconds",
				Help:    "Background task run latency, by task",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"task"},
		),

		BackupOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redbackup_client_operations_total",
				Help: "Total client operations, by operation and result",
			},
			[]string{"operation", "result"},
		),

		BackupOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redbackup_client_operation_duration_seconds",
				Help:    "Client operation latency, by operation",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"operation"},
		),
	}

	return m
}

// RecordConnectionAccepted tracks a newly accepted connection.
func (m *Metrics) RecordConnectionAccepted() {
	atomic.AddInt64(&m.activeConnections, 1)
	m.ConnectionsActive.Set(float64(atomic.LoadInt64(&m.activeConnections)))
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
}

// RecordConnectionClosed tracks a connection ending, successful or not.
func (m *Metrics) RecordConnectionClosed(success bool) {
	atomic.AddInt64(&m.activeConnections, -1)
	m.ConnectionsActive.Set(float64(atomic.LoadInt64(&m.activeConnections)))

	result := "ok"
	if !success {
		result = "error"
	}
	m.ConnectionsTotal.WithLabelValues(result).Inc()
}

// RecordRequest records a single request/response exchange outcome.
func (m *Metrics) RecordRequest(kind string, success bool, durationSeconds float64) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.RequestsTotal.WithLabelValues(kind, result).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordChunkPersisted increments the persisted-chunk counter.
func (m *Metrics) RecordChunkPersisted() {
	m.ChunksPersistedTotal.Inc()
}

// RecordChunkCorrupted increments the corrupted-chunk counter.
func (m *Metrics) RecordChunkCorrupted() {
	m.ChunksCorruptedTotal.Inc()
}

// RecordChunkDeleted increments the deleted-chunk counter for a reason.
func (m *Metrics) RecordChunkDeleted(reason string) {
	m.ChunksDeletedTotal.WithLabelValues(reason).Inc()
}

// RecordDatabaseOperation records a metadata-table operation outcome.
func (m *Metrics) RecordDatabaseOperation(operation string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordScheduleRun records a single background task run.
func (m *Metrics) RecordScheduleRun(task string, success bool, durationSeconds float64) {
	m.ScheduleRunsTotal.WithLabelValues(task).Inc()
	if !success {
		m.ScheduleFailuresTotal.WithLabelValues(task).Inc()
	}
	m.ScheduleRunDuration.WithLabelValues(task).Observe(durationSeconds)
}

// RecordBackupOperation records a client create/list/restore outcome.
func (m *Metrics) RecordBackupOperation(operation string, success bool, durationSeconds float64) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.BackupOperationsTotal.WithLabelValues(operation, result).Inc()
	m.BackupOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
