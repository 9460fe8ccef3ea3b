package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/internal/discovery"
	"github.com/mselser95/p2p-wager/internal/escrow"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// Chain is one RPC endpoint's view of the escrow and its bot registry.
type Chain interface {
	escrow.Ledger
	discovery.Registry
}

// FailoverLedger routes calls to the primary RPC and fails over to the
// secondary when the primary breaker is open or the call fails in transport.
// Business rejections never fail over, and neither does a write that was
// already broadcast (escrow.ErrTxPending).
type FailoverLedger struct {
	primary   Chain
	secondary Chain
	breaker   *circuitbreaker.Breaker
	logger    *zap.Logger

	onSecondary atomic.Bool
}

var (
	_ escrow.Ledger      = (*FailoverLedger)(nil)
	_ discovery.Registry = (*FailoverLedger)(nil)
)

// LedgerConfig holds failover ledger configuration. Secondary may be nil.
type LedgerConfig struct {
	Primary   Chain
	Secondary Chain
	Breaker   *circuitbreaker.Breaker
	Logger    *zap.Logger
}

// NewFailoverLedger creates a failover ledger.
func NewFailoverLedger(cfg *LedgerConfig) (*FailoverLedger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary cannot be nil")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("breaker cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &FailoverLedger{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		breaker:   cfg.Breaker,
		logger:    cfg.Logger,
	}, nil
}

func failover[T any](ctx context.Context, l *FailoverLedger, op string, fn func(Chain) (T, error)) (T, error) {
	var out T
	err := l.breaker.Do(ctx, func(context.Context) error {
		v, err := fn(l.primary)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, rpcFailure)

	if err == nil {
		l.onSecondary.Store(false)
		return out, nil
	}
	if !rpcFailure(err) || ctx.Err() != nil {
		return out, err
	}
	if l.secondary == nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}

	l.onSecondary.Store(true)
	FallbacksTotal.WithLabelValues(DependencyPrimaryRPC, string(FallbackSecondaryRPC)).Inc()

	if errors.Is(err, circuitbreaker.ErrOpen) {
		l.logger.Debug("primary-rpc-open-using-secondary", zap.String("op", op))
	} else {
		l.logger.Warn("primary-rpc-failed-using-secondary", zap.String("op", op), zap.Error(err))
	}

	v, serr := fn(l.secondary)
	if serr != nil && rpcFailure(serr) {
		FallbackMissesTotal.WithLabelValues(DependencyPrimaryRPC).Inc()
		return v, fmt.Errorf("%s: secondary rpc: %w (primary: %v)", op, serr, err)
	}
	return v, serr
}

// rpcFailure reports whether err means the endpoint failed before a write
// reached the network.
func rpcFailure(err error) bool {
	return countable(err) && !errors.Is(err, escrow.ErrTxPending)
}

// GetBet implements escrow.Ledger.
func (l *FailoverLedger) GetBet(ctx context.Context, betID uint64) (*types.BetRecord, error) {
	return failover(ctx, l, "get-bet", func(c Chain) (*types.BetRecord, error) {
		return c.GetBet(ctx, betID)
	})
}

// NonceOf implements escrow.Ledger.
func (l *FailoverLedger) NonceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return failover(ctx, l, "nonce-of", func(c Chain) (*big.Int, error) {
		return c.NonceOf(ctx, account)
	})
}

type bots struct {
	addresses []common.Address
	endpoints []string
}

// ActiveBots implements discovery.Registry.
func (l *FailoverLedger) ActiveBots(ctx context.Context) ([]common.Address, []string, error) {
	b, err := failover(ctx, l, "active-bots", func(c Chain) (bots, error) {
		a, e, err := c.ActiveBots(ctx)
		return bots{addresses: a, endpoints: e}, err
	})
	return b.addresses, b.endpoints, err
}

// CommitBilateralBet implements escrow.Ledger.
func (l *FailoverLedger) CommitBilateralBet(ctx context.Context, c *signing.BetCommitment, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return failover(ctx, l, "commit-bilateral-bet", func(ch Chain) (*types.TxResult, error) {
		return ch.CommitBilateralBet(ctx, c, creatorSig, fillerSig)
	})
}

// SettleByAgreement implements escrow.Ledger.
func (l *FailoverLedger) SettleByAgreement(ctx context.Context, a *signing.SettlementAgreement, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return failover(ctx, l, "settle-by-agreement", func(ch Chain) (*types.TxResult, error) {
		return ch.SettleByAgreement(ctx, a, creatorSig, fillerSig)
	})
}

// CustomPayout implements escrow.Ledger.
func (l *FailoverLedger) CustomPayout(ctx context.Context, p *signing.CustomPayoutProposal, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	return failover(ctx, l, "custom-payout", func(ch Chain) (*types.TxResult, error) {
		return ch.CustomPayout(ctx, p, creatorSig, fillerSig)
	})
}

// RequestArbitration implements escrow.Ledger.
func (l *FailoverLedger) RequestArbitration(ctx context.Context, betID uint64) (*types.TxResult, error) {
	return failover(ctx, l, "request-arbitration", func(ch Chain) (*types.TxResult, error) {
		return ch.RequestArbitration(ctx, betID)
	})
}

// Name implements Reporter.
func (l *FailoverLedger) Name() string { return DependencyPrimaryRPC }

// Health implements Reporter.
func (l *FailoverLedger) Health() DependencyHealth {
	return health(l.breaker.State(), l.onSecondary.Load(), FallbackSecondaryRPC)
}
