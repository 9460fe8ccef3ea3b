package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// NativeBalance tracks the native balance available for gas.
	NativeBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_wallet_native_balance",
		Help: "Current native token balance in wallet (whole units)",
	})

	// CollateralBalance tracks the collateral token balance available for stakes.
	CollateralBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_wallet_collateral_balance",
		Help: "Current collateral balance in wallet (whole units)",
	})

	// EscrowAllowance tracks the collateral the escrow contract may pull.
	EscrowAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_wallet_escrow_allowance",
		Help: "Collateral allowance approved to the escrow (whole units)",
	})

	// LastUpdateTimestamp tracks the Unix time of the last successful poll.
	LastUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_wallet_last_update_timestamp",
		Help: "Unix timestamp of last successful wallet update",
	})

	// UpdateErrorsTotal counts failed polls.
	UpdateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_wallet_update_errors_total",
		Help: "Total number of wallet update errors",
	})

	// UpdateDuration tracks how long each poll takes.
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_wallet_update_duration_seconds",
		Help:    "Time taken to fetch and update wallet metrics",
		Buckets: prometheus.DefBuckets,
	})
)
