package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement core.
type Metrics struct {
	// --- Supply ledger ---
	MintsApplied  prometheus.Counter
	BurnsApplied  prometheus.Counter
	MintedBloom   prometheus.Counter
	BurnedBloom   prometheus.Counter
	CurrentSupply prometheus.Gauge
	IntegrityErrs prometheus.Counter

	// --- Peg / guard ---
	MintsRejected        *prometheus.CounterVec
	CollateralRatio      prometheus.Gauge
	UnderReservedEntered prometheus.Counter

	// --- Reserve feeds ---
	FeedReads     *prometheus.CounterVec
	FeedFailures  *prometheus.CounterVec
	FeedStale     *prometheus.CounterVec
	LockedSats    prometheus.Gauge
	ComposerEmpty prometheus.Counter

	// --- Redemption ---
	RedemptionTransitions *prometheus.CounterVec
	RedemptionsOpen       prometheus.Gauge
	RedemptionQuoteSats   prometheus.Counter
	ExpirySweepDuration   prometheus.Histogram

	// --- Bridge ---
	BridgeTransitions *prometheus.CounterVec
	BridgeOpen        prometheus.Gauge
	BridgeVolumeBloom *prometheus.CounterVec
	SubscriberDrops   prometheus.Counter

	// --- Persistence / publish ---
	PersistRecordsWritten prometheus.Counter
	PersistErrors         prometheus.Counter
	PersistRetry          prometheus.Counter
	PublishDrops          prometheus.Counter
	PublishedEvents       *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	apiBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}

	return &Metrics{
		MintsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_ledger_mints_total",
			Help: "Mint events recorded",
		}),
		BurnsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_ledger_burns_total",
			Help: "Burn events recorded",
		}),
		MintedBloom: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_ledger_minted_bloom_total",
			Help: "Cumulative BLOOM minted",
		}),
		BurnedBloom: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_ledger_burned_bloom_total",
			Help: "Cumulative BLOOM burned",
		}),
		CurrentSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bloom_ledger_current_supply",
			Help: "Outstanding BLOOM supply",
		}),
		IntegrityErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_ledger_integrity_errors_total",
			Help: "Burns that exceeded outstanding supply (clamped)",
		}),

		MintsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_guard_mints_rejected_total",
			Help: "Mints rejected by the guard",
		}, []string{"reason"}),
		CollateralRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bloom_guard_collateralization_ratio",
			Help: "Locked reserve value / outstanding issued value",
		}),
		UnderReservedEntered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_guard_under_reserved_entered_total",
			Help: "Times the under-reserved alarm latched",
		}),

		FeedReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_reserve_feed_reads_total",
			Help: "Successful reserve feed reads",
		}, []string{"source"}),
		FeedFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_reserve_feed_failures_total",
			Help: "Reserve feed read failures",
		}, []string{"source"}),
		FeedStale: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_reserve_feed_stale_total",
			Help: "Readings rejected as stale",
		}, []string{"source"}),
		LockedSats: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bloom_reserve_locked_sats",
			Help: "Composed locked-collateral reading in satoshis",
		}),
		ComposerEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_reserve_composer_exhausted_total",
			Help: "Reads where every feed was stale or failed",
		}),

		RedemptionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_redemption_transitions_total",
			Help: "Redemption intent state transitions",
		}, []string{"to"}),
		RedemptionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bloom_redemption_open_intents",
			Help: "Intents not yet in a terminal state",
		}),
		RedemptionQuoteSats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_redemption_quoted_sats_total",
			Help: "Cumulative satoshis quoted for redemption",
		}),
		ExpirySweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloom_redemption_sweep_duration_seconds",
			Help:    "Expiry sweep duration",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		}),

		BridgeTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_bridge_transitions_total",
			Help: "Bridge transaction state transitions",
		}, []string{"type", "to"}),
		BridgeOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bloom_bridge_open_transactions",
			Help: "Bridge transactions not yet terminal",
		}),
		BridgeVolumeBloom: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_bridge_volume_bloom_total",
			Help: "BLOOM volume moved per bridge type",
		}, []string{"type"}),
		SubscriberDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_bridge_subscriber_drops_total",
			Help: "Notifications dropped on slow subscribers",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_persist_records_written_total",
			Help: "Settlement records written to Postgres",
		}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_persist_errors_total",
			Help: "Persistence write errors",
		}),
		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_persist_retry_total",
			Help: "Persistence retries",
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bloom_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),
		PublishedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_published_events_total",
			Help: "Settlement events published to NATS",
		}, []string{"kind"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloom_http_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: apiBuckets,
		}, []string{"route"}),
	}
}
