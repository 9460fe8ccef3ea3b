package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the price stream connection.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_price_stream_active_connections",
		Help: "Number of active price stream connections",
	})

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_price_stream_reconnect_attempts_total",
		Help: "Total number of price stream reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_price_stream_reconnect_failures_total",
		Help: "Total number of price stream reconnection failures",
	})

	// MessagesReceivedTotal tracks frames received by type.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_price_stream_messages_received_total",
			Help: "Total number of price stream messages received",
		},
		[]string{"event_type"},
	)

	// SubscriptionCount tracks subscribed tickers.
	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_price_stream_subscription_count",
		Help: "Number of subscribed tickers",
	})

	// MessagesDroppedTotal tracks dropped frames and ticks.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_price_stream_messages_dropped_total",
			Help: "Total number of price stream messages dropped",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks connection lifetime.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_price_stream_connection_duration_seconds",
		Help:    "Duration of price stream connections before disconnect",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	})
)
