package pricefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_price_fetch_duration_seconds",
		Help:    "Duration of price snapshot fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_price_fetch_errors_total",
		Help: "Total failed price snapshot fetches",
	}, []string{"source"})

	TicksAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_price_ticks_applied_total",
		Help: "Total streamed price ticks applied to the latest snapshot",
	})
)
