package negotiation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindProposal   = "proposal"
	kindAcceptance = "acceptance"
	kindCommitment = "commitment"

	outcomeSent   = "sent"
	outcomeFailed = "failed"
)

var (
	// MessagesTotal counts outbound negotiation steps by kind and outcome.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_negotiation_messages_total",
		Help: "Negotiation messages by kind and outcome",
	}, []string{"kind", "outcome"})

	PendingMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_negotiation_pending_matches",
		Help: "Accepted proposals awaiting the filler's commitment",
	})
)
