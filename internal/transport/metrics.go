package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportRequestsTotal counts outbound peer requests by final result.
	TransportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_transport_requests_total",
		Help: "Total outbound peer requests by operation and result (ok, connection, timeout, server, rejected)",
	}, []string{"op", "result"})

	// TransportRetriesTotal counts retry attempts.
	TransportRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_transport_retries_total",
		Help: "Total retries of outbound peer requests",
	}, []string{"op"})

	// TransportRequestDuration tracks end-to-end latency including retries.
	TransportRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_transport_request_duration_seconds",
		Help:    "Outbound peer request duration including retries",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})
)
