package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState tracks the current phase per dependency (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wager_circuit_breaker_state",
		Help: "Current circuit breaker phase per dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	// BreakerTransitions counts phase changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_circuit_breaker_transitions_total",
		Help: "Total circuit breaker phase changes by dependency and target phase",
	}, []string{"dependency", "to"})

	// BreakerRejections counts calls refused without touching the dependency.
	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_circuit_breaker_rejections_total",
		Help: "Total calls rejected because the breaker was open",
	}, []string{"dependency"})
)
