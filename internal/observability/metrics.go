package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the mirror's Prometheus collectors.
type Metrics struct {
	// --- Chain access ---
	FetchDuration  *prometheus.HistogramVec
	FetchErrors    *prometheus.CounterVec
	FetchAccounts  prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	BreakerState   *prometheus.GaugeVec
	SubscribeDrops prometheus.Counter

	// --- Decoding ---
	DecodeErrors *prometheus.CounterVec

	// --- Risk ---
	HealthComputations *prometheus.CounterVec
	HealthErrors       *prometheus.CounterVec
	Liquidatable       prometheus.Gauge
	AccountsScanned    prometheus.Gauge
	ScanDuration       prometheus.Histogram
	LiquidationEvents  *prometheus.CounterVec
	SettlementPlans    *prometheus.CounterVec

	// --- Outbound ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistRows     *prometheus.CounterVec
	PersistBatchDur prometheus.Histogram
	PersistErrors   *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	rpcBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	scanBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	return &Metrics{
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_fetch_duration_seconds",
			Help:    "RPC account fetch latency",
			Buckets: rpcBuckets,
		}, []string{"method"}),

		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_fetch_errors_total",
			Help: "RPC account fetch failures",
		}, []string{"method", "reason"}),

		FetchAccounts: f.NewCounter(prometheus.CounterOpts{
			Name: "mirror_fetch_accounts_total",
			Help: "Accounts requested from RPC",
		}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "mirror_account_cache_hits_total",
			Help: "Account bytes served from the cache",
		}),

		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "mirror_account_cache_misses_total",
			Help: "Account bytes not found in the cache",
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirror_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),

		SubscribeDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "mirror_subscribe_drops_total",
			Help: "Account notifications dropped because the consumer was slow",
		}),

		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_decode_errors_total",
			Help: "Account blobs that failed to decode",
		}, []string{"entity"}),

		HealthComputations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_health_computations_total",
			Help: "Health reports computed",
		}, []string{"status"}),

		HealthErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_health_errors_total",
			Help: "Accounts whose health could not be computed",
		}, []string{"reason"}),

		Liquidatable: f.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_liquidatable_accounts",
			Help: "Accounts liquidatable in the last scan",
		}),

		AccountsScanned: f.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_accounts_scanned",
			Help: "Accounts evaluated in the last scan",
		}),

		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirror_scan_duration_seconds",
			Help:    "Full group scan duration",
			Buckets: scanBuckets,
		}),

		LiquidationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_liquidation_transitions_total",
			Help: "Liquidation state transitions observed",
		}, []string{"to"}),

		SettlementPlans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_settlement_plans_total",
			Help: "PnL settlement plans produced",
		}, []string{"outcome"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "mirror_publish_drops_total",
			Help: "Events dropped because the publish channel was full",
		}),

		PersistRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_persist_rows_total",
			Help: "Rows written to Postgres",
		}, []string{"table"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirror_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: rpcBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"table"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: rpcBuckets,
		}, []string{"endpoint"}),
	}
}
