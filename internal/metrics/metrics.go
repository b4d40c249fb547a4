package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track RPC and refresh volume
var (
	RPCAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_rpc_attempts_total",
			Help: "Total number of RPC attempts against remote nodes by outcome",
		},
		[]string{"outcome"},
	)

	RPCNoNodeResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletd_rpc_no_node_responses_total",
		Help: "Total number of RPC calls answered with 499 because no node was available",
	})

	NodeObservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_node_observations_total",
			Help: "Total number of remote node connection observations by state",
		},
		[]string{"state"},
	)

	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_refresh_runs_total",
			Help: "Total number of refresh runs by final status",
		},
		[]string{"status"},
	)

	ListenerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_listener_events_total",
			Help: "Total number of events delivered to ledger listeners by type",
		},
		[]string{"event"},
	)

	LedgersPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletd_ledgers_persisted_total",
		Help: "Total number of ledger snapshots saved to storage",
	})
)

// Performance metrics - Track latency
var (
	RPCDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "walletd_rpc_duration_seconds",
		Help:    "Time until a remote node returned response headers",
		Buckets: prometheus.DefBuckets,
	})

	RPCBackoffWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "walletd_rpc_backoff_wait_seconds",
		Help:    "Backoff wait before retrying an RPC attempt",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "walletd_refresh_duration_seconds",
		Help:    "Time taken by a refresh run",
		Buckets: prometheus.DefBuckets,
	})
)

// State metrics - Track current system state
var (
	RPCInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_rpc_in_flight",
		Help: "Number of RPC calls currently in flight",
	})

	LiveNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_live_nodes",
		Help: "Number of remote nodes in the load balancer live set",
	})

	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_chain_height",
		Help: "Chain height of the last refresh",
	})

	LedgerTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_ledger_transactions",
		Help: "Number of transactions in the current ledger",
	})

	LedgerEnotes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_ledger_enotes",
		Help: "Number of enotes in the current ledger",
	})

	Balance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletd_balance_atomic_units",
			Help: "Wallet balance in atomic units by kind",
		},
		[]string{"kind"},
	)

	Listeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_listeners",
		Help: "Number of registered ledger listeners",
	})
)

// Consistency metrics - Track invariant violations
var (
	LedgerChainViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletd_ledger_chain_violations_total",
		Help: "Total number of ledgers that did not extend the previous snapshot",
	})
)
