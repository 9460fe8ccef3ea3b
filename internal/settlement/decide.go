package settlement

import (
	"math/big"

	"github.com/mselser95/p2p-wager/pkg/types"
)

// Action is the settlement path taken for a bet.
type Action string

const (
	ActionCommit    Action = "commit"
	ActionAgree     Action = "agree"
	ActionCounter   Action = "counter"
	ActionArbitrate Action = "arbitrate"
)

// Decision is the engine's verdict on a peer's claim.
type Decision struct {
	Action Action
	Local  types.Outcome
	Reason string
}

// Decide compares the locally computed outcome with the peer's claim.
// A nil claim means the peer never answered. A mismatching claim is
// countered while negotiation rounds remain, otherwise it goes to arbitration.
func Decide(local types.Outcome, claim *types.ClaimedOutcome, roundsLeft int) Decision {
	switch {
	case claim == nil:
		return Decision{Action: ActionArbitrate, Local: local, Reason: "no claim from peer"}
	case claim.Matches(local):
		return Decision{Action: ActionAgree, Local: local, Reason: "claims match"}
	case roundsLeft > 0:
		return Decision{Action: ActionCounter, Local: local, Reason: "claims differ"}
	default:
		return Decision{Action: ActionArbitrate, Local: local, Reason: "negotiation exhausted"}
	}
}

// CounterPolicy picks the payout split offered when outcomes differ.
// The two payouts must sum to bet.TotalLocked().
type CounterPolicy func(bet *types.BetRecord, local types.Outcome) (creatorPayout *big.Int, fillerPayout *big.Int)

// ProportionalSplit divides the pot by the locally counted win ratio.
// With no valid trades both stakes are returned.
func ProportionalSplit(bet *types.BetRecord, local types.Outcome) (*big.Int, *big.Int) {
	total := bet.TotalLocked()
	if local.ValidTrades == 0 {
		return amountOrZero(bet.CreatorAmount), amountOrZero(bet.FillerAmount)
	}

	creator := new(big.Int).Mul(total, big.NewInt(int64(local.WinsCount)))
	creator.Quo(creator, big.NewInt(int64(local.ValidTrades)))
	filler := new(big.Int).Sub(total, creator)
	return creator, filler
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
