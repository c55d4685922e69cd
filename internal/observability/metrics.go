package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarketLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreVopsEmitted    *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Market ---
	MarketFills        *prometheus.CounterVec
	MarginCalls        prometheus.Counter
	BlackSwans         prometheus.Counter
	OrdersCulled       prometheus.Counter
	OrdersTolled       prometheus.Counter
	RestingOrders      prometheus.Gauge
	OpenCallPositions  prometheus.Gauge
	PendingSettlements prometheus.Gauge

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Channels ---
	ProjectionDrops *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistFillsWritten  prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call it once per process.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_core_events_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_core_events_rejected_total",
			Help: "Operations rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_core_event_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreVopsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_core_vops_emitted_total",
			Help: "Virtual operations emitted",
		}, []string{"vop_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_core_sequence",
			Help: "Current global sequence",
		}),

		// Market
		MarketFills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fills_total",
			Help: "Fills applied by order kind",
		}, []string{"kind"}),

		MarginCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_margin_calls_total",
			Help: "Margin calls executed against the book",
		}),

		BlackSwans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_black_swans_total",
			Help: "Black swans detected",
		}),

		OrdersCulled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_orders_culled_total",
			Help: "Dust orders cancelled",
		}),

		OrdersTolled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_orders_tolled_total",
			Help: "Orders charged a deflation toll",
		}),

		RestingOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_resting_orders",
			Help: "Limit orders in the book",
		}),

		OpenCallPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_open_call_positions",
			Help: "Open debt positions",
		}),

		PendingSettlements: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_pending_settlements",
			Help: "Force settlement requests waiting for maintenance",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_idempotency_duplicates_total",
			Help: "Duplicate operations detected",
		}, []string{"event_type", "tier"}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_event_sequence_gap_total",
			Help: "Sequence gaps detected",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_event_out_of_order_total",
			Help: "Out-of-order operations",
		}, []string{"partition"}),

		// Channels
		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_projection_drops_total",
			Help: "Outputs dropped because a non-blocking channel was full",
		}, []string{"channel"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_persist_events_written_total",
			Help: "Event rows written",
		}),

		PersistFillsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_persist_fills_written_total",
			Help: "Fill rows written",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_replay_events_total",
			Help: "Operations replayed on startup",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
