package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// Settle computes betID's outcome, signs an agreement naming it and sends it
// to the counterparty, which countersigns and submits. An undeliverable
// agreement leaves the bet disputed.
func (e *Engine) Settle(ctx context.Context, betID uint64) (*signing.SettlementAgreement, error) {
	bet, outcome, err := e.Outcome(ctx, betID)
	if err != nil {
		return nil, err
	}
	peer, err := e.counterparty(bet)
	if err != nil {
		return nil, err
	}

	a, err := e.Agreement(ctx, bet, outcome)
	if err != nil {
		return nil, err
	}
	sig, err := e.Sign(a)
	if err != nil {
		return nil, err
	}

	e.logger.Info("settlement-proposed",
		zap.Uint64("bet-id", bet.ID),
		zap.String("winner", outcome.Winner.Hex()),
		zap.Int("wins-count", outcome.WinsCount),
		zap.Int("valid-trades", outcome.ValidTrades))

	msg := &signing.SignedAgreement{
		Agreement: a.ToJSON(),
		Signer:    e.Address().Hex(),
		Signature: signing.EncodeSignature(sig),
	}
	err = e.deliver(ctx, peer, func(ctx context.Context, endpoint string) (*types.Ack, error) {
		return e.sender.SendSettlement(ctx, endpoint, msg)
	})
	if err != nil {
		e.dispute(bet)
		return a, err
	}
	return a, nil
}

// HandleSettlement answers a peer's signed agreement: countersign and submit
// when it matches the local outcome, counter or dispute otherwise.
func (e *Engine) HandleSettlement(ctx context.Context, a *signing.SettlementAgreement, signer common.Address, sig []byte) error {
	if signer == e.Address() {
		return fmt.Errorf("agreement for bet %d is signed by self", a.BetID)
	}

	bet, local, err := e.Outcome(ctx, a.BetID)
	if err != nil {
		return err
	}
	if !bet.IsParty(e.Address()) {
		return fmt.Errorf("%w: bet %d", ErrNotParty, bet.ID)
	}

	claim := types.ClaimedOutcome{
		Winner:      a.Winner.Hex(),
		WinsCount:   int(a.WinsCount),
		ValidTrades: int(a.ValidTrades),
		IsTie:       a.IsTie,
	}
	d := Decide(local, &claim, e.roundsLeft(bet.ID))
	e.logDecision(bet.ID, d)

	switch d.Action {
	case ActionAgree:
		own, err := e.Sign(a)
		if err != nil {
			return err
		}
		creatorSig, fillerSig := e.ordered(bet, own, sig)
		return e.Agree(ctx, a, creatorSig, fillerSig).Err()
	case ActionCounter:
		return e.offer(ctx, bet, local)
	default:
		e.dispute(bet)
		return nil
	}
}

// HandleCustomPayout answers a peer's signed payout split. A split giving the
// local party at least its own policy share is countersigned and submitted.
func (e *Engine) HandleCustomPayout(ctx context.Context, p *signing.CustomPayoutProposal, signer common.Address, sig []byte) error {
	if signer == e.Address() {
		return fmt.Errorf("payout for bet %d is signed by self", p.BetID)
	}

	bet, local, err := e.Outcome(ctx, p.BetID)
	if err != nil {
		return err
	}
	if !bet.IsParty(e.Address()) {
		return fmt.Errorf("%w: bet %d", ErrNotParty, bet.ID)
	}
	if total := bet.TotalLocked(); p.Sum().Cmp(total) != 0 {
		return types.NewBusinessError(bet.ID, types.ErrPayoutMismatch,
			fmt.Sprintf("payout sum %s != total locked %s", p.Sum(), total))
	}

	if e.acceptable(bet, local, p) {
		DecisionsTotal.WithLabelValues(string(ActionCounter)).Inc()
		own, err := e.Sign(p)
		if err != nil {
			return err
		}
		creatorSig, fillerSig := e.ordered(bet, own, sig)
		return e.SubmitCustomPayout(ctx, p, creatorSig, fillerSig).Err()
	}

	e.logger.Info("custom-payout-declined",
		zap.Uint64("bet-id", bet.ID),
		zap.String("creator-payout", decimal(p.CreatorPayout)),
		zap.String("filler-payout", decimal(p.FillerPayout)))

	if e.roundsLeft(bet.ID) > 0 {
		return e.offer(ctx, bet, local)
	}
	DecisionsTotal.WithLabelValues(string(ActionArbitrate)).Inc()
	e.dispute(bet)
	return nil
}

// EscalateDue requests arbitration for every disputed bet whose deadline has
// passed. Bets the escrow no longer holds active are dropped.
func (e *Engine) EscalateDue(ctx context.Context) []Result {
	now := e.now()

	e.mu.Lock()
	due := make([]uint64, 0, len(e.disputes))
	for id, deadline := range e.disputes {
		if !now.Before(deadline) {
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	results := make([]Result, 0, len(due))
	for _, id := range due {
		res := e.RequestArbitration(ctx, id)
		if res.Code == types.ErrBetNotActive || res.Code == types.ErrBetNotFound {
			e.resolveDispute(id)
		}
		results = append(results, res)
	}
	return results
}

// RunEscalation calls EscalateDue on every interval until ctx ends.
func (e *Engine) RunEscalation(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("escalation interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.EscalateDue(ctx)
		}
	}
}

// offer sends the local counter split to the counterparty and spends a round.
func (e *Engine) offer(ctx context.Context, bet *types.BetRecord, local types.Outcome) error {
	creatorPayout, fillerPayout := e.counter(bet, local)
	p, sig, err := e.ProposeCustomPayout(ctx, bet, creatorPayout, fillerPayout)
	if err != nil {
		return err
	}
	e.spendRound(bet.ID)

	peer, err := e.counterparty(bet)
	if err != nil {
		return err
	}

	e.logger.Info("custom-payout-offered",
		zap.Uint64("bet-id", bet.ID),
		zap.String("creator-payout", creatorPayout.String()),
		zap.String("filler-payout", fillerPayout.String()))

	msg := &signing.SignedPayout{
		Payout:    p.ToJSON(),
		Signer:    e.Address().Hex(),
		Signature: signing.EncodeSignature(sig),
	}
	err = e.deliver(ctx, peer, func(ctx context.Context, endpoint string) (*types.Ack, error) {
		return e.sender.SendCustomPayout(ctx, endpoint, msg)
	})
	if err != nil {
		e.dispute(bet)
		return err
	}
	return nil
}

func (e *Engine) acceptable(bet *types.BetRecord, local types.Outcome, p *signing.CustomPayoutProposal) bool {
	creatorWant, fillerWant := e.counter(bet, local)

	offered, want := p.FillerPayout, fillerWant
	if e.Address() == bet.Creator {
		offered, want = p.CreatorPayout, creatorWant
	}
	return offered != nil && offered.Cmp(want) >= 0
}

func (e *Engine) deliver(ctx context.Context, peer common.Address, send func(context.Context, string) (*types.Ack, error)) error {
	if e.peers == nil || e.sender == nil {
		return ErrNoTransport
	}

	p, ok := e.peers.FindPeer(ctx, peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerUnknown, peer.Hex())
	}

	ack, err := send(ctx, p.Endpoint)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", p.Endpoint, err)
	}
	if !ack.Success {
		return fmt.Errorf("peer %s refused: %s (%s)", peer.Hex(), ack.Error, ack.Code)
	}
	return nil
}

func (e *Engine) logDecision(betID uint64, d Decision) {
	DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	e.logger.Info("settlement-decided",
		zap.Uint64("bet-id", betID),
		zap.String("action", string(d.Action)),
		zap.String("reason", d.Reason),
		zap.String("local-winner", d.Local.Winner.Hex()),
		zap.Int("wins-count", d.Local.WinsCount),
		zap.Int("valid-trades", d.Local.ValidTrades))
}

func (e *Engine) roundsLeft(betID uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counterRounds - e.rounds[betID]
}

func (e *Engine) spendRound(betID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rounds[betID]++
}

