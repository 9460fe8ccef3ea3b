package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallDuration tracks read-call latency per RPC endpoint.
	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_escrow_call_duration_seconds",
		Help:    "Escrow view call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"rpc", "method"})

	// CallErrorsTotal counts failed read calls.
	CallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_escrow_call_errors_total",
		Help: "Total failed escrow view calls",
	}, []string{"rpc", "method"})

	// TxTotal counts escrow writes by result (ok, rejected, reverted, pending, error).
	TxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_escrow_tx_total",
		Help: "Total escrow transactions by method and result",
	}, []string{"rpc", "method", "result"})
)
