// Package metrics holds the Prometheus collectors for the HTTP layer and
// the ingest pipeline. Every Record function is a no-op until Init is called.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics
type PrometheusMetrics struct {
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec
	HttpRequestSize     *prometheus.HistogramVec

	// Ingest metrics
	IngestTotal    *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec
	RowsUpserted   *prometheus.CounterVec
	UpsertRetries  *prometheus.CounterVec
	CellDowngrades *prometheus.CounterVec
	SchemaChanges  *prometheus.CounterVec

	// Queue metrics
	BatchesPublished *prometheus.CounterVec
	BatchesConsumed  *prometheus.CounterVec
	Redeliveries     prometheus.Counter
}

var (
	metrics  *PrometheusMetrics
	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		metrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
}

func newMetrics(factory promauto.Factory) *PrometheusMetrics {
	return &PrometheusMetrics{
		HttpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HttpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dyntable_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HttpRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dyntable_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "endpoint"},
		),

		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_ingest_total",
				Help: "Ingest runs by terminal state",
			},
			[]string{"state"},
		),
		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dyntable_ingest_duration_seconds",
				Help:    "Time from receipt to terminal state of one ingest",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		RowsUpserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_rows_upserted_total",
				Help: "Rows written by upserts",
			},
			[]string{"table"},
		),
		UpsertRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_upsert_retries_total",
				Help: "Upsert attempts that hit a missing relation",
			},
			[]string{"table"},
		),
		CellDowngrades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_cell_downgrades_total",
				Help: "Non-empty cells stored as NULL because they did not fit the column type",
			},
			[]string{"table", "type"},
		),
		SchemaChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_schema_reconciliations_total",
				Help: "Schema reconciliations by action",
			},
			[]string{"action"},
		),

		BatchesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_batches_published_total",
				Help: "Batches published to the queue",
			},
			[]string{"status"},
		),
		BatchesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dyntable_batches_consumed_total",
				Help: "Batches handled by the consumer by outcome",
			},
			[]string{"outcome"},
		),
		Redeliveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dyntable_batch_redeliveries_total",
				Help: "Deliveries flagged as redelivered by the broker",
			},
		),
	}
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration, size int64) {
	if metrics == nil {
		return
	}
	metrics.HttpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	metrics.HttpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	if size > 0 {
		metrics.HttpRequestSize.WithLabelValues(method, endpoint).Observe(float64(size))
	}
}

// RecordIngest records the terminal state of one ingest
func RecordIngest(state string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.IngestTotal.WithLabelValues(state).Inc()
	metrics.IngestDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func RecordRowsUpserted(table string, rows int64) {
	if metrics == nil || rows <= 0 {
		return
	}
	metrics.RowsUpserted.WithLabelValues(table).Add(float64(rows))
}

func RecordUpsertRetry(table string) {
	if metrics == nil {
		return
	}
	metrics.UpsertRetries.WithLabelValues(table).Inc()
}

func RecordDowngrades(table, columnType string, cells int) {
	if metrics == nil || cells <= 0 {
		return
	}
	metrics.CellDowngrades.WithLabelValues(table, columnType).Add(float64(cells))
}

func RecordSchemaChange(action string) {
	if metrics == nil {
		return
	}
	metrics.SchemaChanges.WithLabelValues(action).Inc()
}

func RecordBatchPublished(success bool) {
	if metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	metrics.BatchesPublished.WithLabelValues(status).Inc()
}

// RecordBatchConsumed records a consumer outcome: acked, requeued or rejected.
func RecordBatchConsumed(outcome string, redelivered bool) {
	if metrics == nil {
		return
	}
	metrics.BatchesConsumed.WithLabelValues(outcome).Inc()
	if redelivered {
		metrics.Redeliveries.Inc()
	}
}
