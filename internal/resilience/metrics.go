package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DependencyHealthy is 1 while a dependency is served without fallback.
	DependencyHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wager_dependency_healthy",
		Help: "Whether a dependency is healthy (1) or degraded (0)",
	}, []string{"dependency"})

	// FallbacksTotal counts calls served by a fallback.
	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_fallbacks_total",
		Help: "Total calls served by a fallback",
	}, []string{"dependency", "fallback"})

	// FallbackMissesTotal counts failures with no usable fallback.
	FallbackMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_fallback_misses_total",
		Help: "Total dependency failures with no usable fallback",
	}, []string{"dependency"})

	PendingSyncQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_pending_sync_queue",
		Help: "Events waiting to be mirrored to the backend",
	})

	PendingSyncDrainedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_pending_sync_drained_total",
		Help: "Total queued events delivered after a backend outage",
	})
)
