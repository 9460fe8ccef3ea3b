package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeersDiscovered tracks the size of the last resolved peer set.
	PeersDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_discovery_peers",
		Help: "Number of peers in the last registry read",
	})

	// HealthyPeersGauge tracks peers that answered the last health sweep.
	HealthyPeersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_discovery_healthy_peers",
		Help: "Number of peers that answered the last health probe",
	})

	// NewPeersTotal tracks peers announced for the first time.
	NewPeersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_discovery_new_peers_total",
		Help: "Total number of newly discovered peers",
	})

	// CacheHitsTotal tracks peer lookups served from cache.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_discovery_cache_hits_total",
		Help: "Total peer lookups served from cache",
	})

	// RefreshesTotal tracks forced refreshes.
	RefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_discovery_refreshes_total",
		Help: "Total forced registry refreshes",
	})

	// PollDurationSeconds tracks registry read latency.
	PollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_discovery_poll_duration_seconds",
		Help:    "Duration of bot registry reads",
		Buckets: prometheus.DefBuckets,
	})

	// PollErrorsTotal tracks registry read failures.
	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_discovery_poll_errors_total",
		Help: "Total number of bot registry read failures",
	})
)
