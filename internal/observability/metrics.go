package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BitLedger.
type Metrics struct {
	// --- Operation processing ---
	OpsApplied      *prometheus.CounterVec
	OpsRejected     *prometheus.CounterVec
	OpApplyDuration *prometheus.HistogramVec
	FillsEmitted    prometheus.Counter
	RemovalsEmitted prometheus.Counter
	LedgerTime      prometheus.Gauge

	// --- Ingestion ---
	IngestReceived    *prometheus.CounterVec
	IngestDuplicates  prometheus.Counter
	IngestParseErrors *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Persistence ---
	PersistFillsWritten    prometheus.Counter
	PersistRemovalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_ops_applied_total",
			Help: "Operations successfully applied",
		}, []string{"op_type"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_ops_rejected_total",
			Help: "Operations rejected by validation",
		}, []string{"op_type"}),

		OpApplyDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_op_apply_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		FillsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_fills_emitted_total",
			Help: "Fill records emitted by the matching engine",
		}),

		RemovalsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_removals_emitted_total",
			Help: "Order removal records emitted",
		}),

		LedgerTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_ledger_time_seconds",
			Help: "Current ledger time (unix seconds)",
		}),

		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_ingest_received_total",
			Help: "Messages received from NATS",
		}, []string{"subject"}),

		IngestDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_ingest_duplicates_total",
			Help: "Duplicate operations caught by the LRU",
		}),

		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_ingest_parse_errors_total",
			Help: "Messages that failed to parse",
		}, []string{"subject"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_dedup_lru_size",
			Help: "Current dedup LRU occupancy",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistFillsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_fills_written_total",
			Help: "Fill records written to Postgres",
		}),

		PersistRemovalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_removals_written_total",
			Help: "Removal records written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
