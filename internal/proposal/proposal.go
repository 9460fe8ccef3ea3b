// Package proposal builds and checks the pre-commitment negotiation messages.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"go.uber.org/zap"
)

// MaxOddsBps bounds oddsBps to 100x.
const MaxOddsBps = 1_000_000

var (
	ErrInvalidOdds       = errors.New("odds out of range")
	ErrInvalidStake      = errors.New("stake must be positive")
	ErrHashMismatch      = errors.New("acceptance references a different proposal")
	ErrFillMismatch      = errors.New("fill amount does not match required match")
	ErrDeadlineInPast    = errors.New("deadline is in the past")
	ErrProposalExpired   = errors.New("proposal expired")
	ErrSelfAcceptance    = errors.New("filler cannot be the creator")
	ErrCommitmentInvalid = errors.New("commitment does not match negotiated terms")
)

// ComputeRequiredMatch returns stake * oddsBps / 10000, rounded down.
// At oddsBps = 10000 the match equals the stake.
func ComputeRequiredMatch(stake *big.Int, oddsBps uint64) *big.Int {
	if stake == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(stake, new(big.Int).SetUint64(oddsBps))
	return out.Quo(out, big.NewInt(10000))
}

// NonceSource hands out the escrow's current nonce for an account.
type NonceSource interface {
	NonceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Builder assembles unsigned messages for one local party.
type Builder struct {
	self         common.Address
	nonces       NonceSource
	expiryWindow time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// Config holds Builder dependencies.
type Config struct {
	Self         common.Address
	Nonces       NonceSource
	ExpiryWindow time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// NewBuilder creates a message builder.
func NewBuilder(cfg *Config) (*Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Nonces == nil {
		return nil, fmt.Errorf("nonce source cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("expiry window must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Builder{
		self:         cfg.Self,
		nonces:       cfg.Nonces,
		expiryWindow: cfg.ExpiryWindow,
		now:          now,
		logger:       cfg.Logger,
	}, nil
}

func (b *Builder) expiry() uint64 {
	return uint64(b.now().Add(b.expiryWindow).Unix())
}

func (b *Builder) nonce(ctx context.Context) (*big.Int, error) {
	n, err := b.nonces.NonceOf(ctx, b.self)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	return n, nil
}

// Proposal builds a proposal over a committed portfolio.
func (b *Builder) Proposal(ctx context.Context, tree *merkle.Tree, stake *big.Int, oddsBps uint64, deadline time.Time) (*signing.TradeProposal, error) {
	if tree == nil {
		return nil, fmt.Errorf("tree cannot be nil")
	}
	if stake == nil || stake.Sign() <= 0 {
		return nil, ErrInvalidStake
	}
	if oddsBps == 0 || oddsBps > MaxOddsBps {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOdds, oddsBps)
	}
	if !deadline.After(b.now()) {
		return nil, ErrDeadlineInPast
	}

	nonce, err := b.nonce(ctx)
	if err != nil {
		return nil, err
	}

	p := &signing.TradeProposal{
		TradesRoot:    tree.Root,
		Creator:       b.self,
		CreatorAmount: new(big.Int).Set(stake),
		OddsBps:       oddsBps,
		Deadline:      uint64(deadline.Unix()),
		Nonce:         nonce,
		Expiry:        b.expiry(),
	}

	b.logger.Debug("proposal-built",
		zap.String("trades-root", tree.Root.Hex()),
		zap.String("stake", stake.String()),
		zap.Uint64("odds-bps", oddsBps))

	return p, nil
}

// Acceptance builds an acceptance matching p at the required amount.
func (b *Builder) Acceptance(ctx context.Context, domain signing.Domain, p *signing.TradeProposal) (*signing.TradeAcceptance, error) {
	if p == nil {
		return nil, fmt.Errorf("proposal cannot be nil")
	}
	if p.Creator == b.self {
		return nil, ErrSelfAcceptance
	}
	if p.Expiry < uint64(b.now().Unix()) {
		return nil, ErrProposalExpired
	}

	proposalHash, err := signing.Hash(domain, p)
	if err != nil {
		return nil, fmt.Errorf("hash proposal: %w", err)
	}

	nonce, err := b.nonce(ctx)
	if err != nil {
		return nil, err
	}

	return &signing.TradeAcceptance{
		ProposalHash: proposalHash,
		Filler:       b.self,
		FillAmount:   ComputeRequiredMatch(p.CreatorAmount, p.OddsBps),
		Nonce:        nonce,
		Expiry:       b.expiry(),
	}, nil
}

// Commitment builds the two-party commitment once an acceptance has been validated.
// The nonce is the creator's, since the creator submits it.
func (b *Builder) Commitment(ctx context.Context, p *signing.TradeProposal, a *signing.TradeAcceptance) (*signing.BetCommitment, error) {
	if p == nil || a == nil {
		return nil, fmt.Errorf("proposal and acceptance are required")
	}

	nonce, err := b.nonces.NonceOf(ctx, p.Creator)
	if err != nil {
		return nil, fmt.Errorf("fetch creator nonce: %w", err)
	}

	return &signing.BetCommitment{
		TradesRoot:    p.TradesRoot,
		Creator:       p.Creator,
		Filler:        a.Filler,
		CreatorAmount: new(big.Int).Set(p.CreatorAmount),
		FillerAmount:  new(big.Int).Set(a.FillAmount),
		Deadline:      p.Deadline,
		Nonce:         nonce,
		Expiry:        b.expiry(),
	}, nil
}

// ValidateAcceptance checks that a binds to p and matches the required stake.
func ValidateAcceptance(domain signing.Domain, p *signing.TradeProposal, a *signing.TradeAcceptance) error {
	if p == nil || a == nil {
		return fmt.Errorf("proposal and acceptance are required")
	}
	if a.Filler == p.Creator {
		return ErrSelfAcceptance
	}

	proposalHash, err := signing.Hash(domain, p)
	if err != nil {
		return fmt.Errorf("hash proposal: %w", err)
	}
	if proposalHash != a.ProposalHash {
		return ErrHashMismatch
	}

	required := ComputeRequiredMatch(p.CreatorAmount, p.OddsBps)
	if a.FillAmount == nil || a.FillAmount.Cmp(required) != 0 {
		return fmt.Errorf("%w: want %s", ErrFillMismatch, required)
	}

	return nil
}

// ValidateCommitment checks that c carries exactly the negotiated terms.
func ValidateCommitment(p *signing.TradeProposal, a *signing.TradeAcceptance, c *signing.BetCommitment) error {
	if p == nil || a == nil || c == nil {
		return fmt.Errorf("proposal, acceptance and commitment are required")
	}
	switch {
	case c.TradesRoot != p.TradesRoot,
		c.Creator != p.Creator,
		c.Filler != a.Filler,
		c.CreatorAmount == nil || c.CreatorAmount.Cmp(p.CreatorAmount) != 0,
		c.FillerAmount == nil || c.FillerAmount.Cmp(a.FillAmount) != 0,
		c.Deadline != p.Deadline:
		return ErrCommitmentInvalid
	}
	return nil
}
