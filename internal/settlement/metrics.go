package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal tracks escrow submissions by action and result code.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_settlement_submissions_total",
		Help: "Total escrow submissions by action and result code",
	}, []string{"action", "code"})

	// SubmissionDuration tracks escrow submission latency.
	SubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_settlement_submission_duration_seconds",
		Help:    "Duration of escrow submissions",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// DecisionsTotal tracks agree/counter/arbitrate verdicts.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_settlement_decisions_total",
		Help: "Total settlement decisions by action",
	}, []string{"action"})

	// OpenDisputes tracks bets waiting for their deadline to request arbitration.
	OpenDisputes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_settlement_open_disputes",
		Help: "Number of disputed bets awaiting arbitration",
	})
)
