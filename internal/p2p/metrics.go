package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts inbound requests by route and result code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_p2p_requests_total",
		Help: "Total inbound P2P requests by route and result code",
	}, []string{"route", "code"})

	// RequestDuration tracks validation and enqueue time.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_p2p_request_duration_seconds",
		Help:    "Inbound P2P request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// HandlerErrorsTotal counts handler failures and panics after a message was accepted.
	HandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_p2p_handler_errors_total",
		Help: "Total handler failures on accepted P2P messages",
	}, []string{"route", "kind"})

	// QueueDepth is the number of accepted messages waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_p2p_handler_queue_depth",
		Help: "Accepted P2P messages waiting for a handler worker",
	})

	TrackedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_p2p_rate_limit_sources",
		Help: "Number of sources with a live token bucket",
	})
)
