package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Tracker periodically fetches wallet balances and updates Prometheus metrics.
type Tracker struct {
	client       *Client
	address      common.Address
	decimals     int
	pollInterval time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	latest *Balances
}

// Config holds tracker configuration.
type Config struct {
	Reader             Reader
	Address            common.Address
	CollateralToken    common.Address
	Escrow             common.Address
	CollateralDecimals int // defaults to 6
	PollInterval       time.Duration
	Logger             *zap.Logger
}

// New creates a new wallet tracker.
func New(cfg *Config) (t *Tracker, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	if cfg.CollateralToken == (common.Address{}) {
		return nil, errors.New("collateral token cannot be zero")
	}

	client, err := NewClient(cfg.Reader, cfg.CollateralToken, cfg.Escrow, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	decimals := cfg.CollateralDecimals
	if decimals <= 0 {
		decimals = 6
	}

	tracker := &Tracker{
		client:       client,
		address:      cfg.Address,
		decimals:     decimals,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}

	return tracker, nil
}

// Run starts the tracker polling loop (blocking).
func (t *Tracker) Run(ctx context.Context) (err error) {
	t.logger.Info("wallet-tracker-starting",
		zap.Duration("poll-interval", t.pollInterval),
		zap.String("address", t.address.Hex()))

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	pollErr := t.Poll(ctx)
	if pollErr != nil {
		t.logger.Error("initial-poll-failed", zap.Error(pollErr))
	}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("wallet-tracker-stopping")
			return ctx.Err()
		case <-ticker.C:
			pollErr = t.Poll(ctx)
			if pollErr != nil {
				t.logger.Error("poll-failed", zap.Error(pollErr))
			}
		}
	}
}

// Poll performs a single polling cycle.
func (t *Tracker) Poll(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		UpdateDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			UpdateErrorsTotal.Inc()
		}
	}()

	balCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	balances, err := t.client.GetBalances(balCtx, t.address)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}

	t.mu.Lock()
	t.latest = balances
	t.mu.Unlock()

	NativeBalance.Set(scale(balances.Native, 18))
	CollateralBalance.Set(scale(balances.Collateral, t.decimals))
	EscrowAllowance.Set(scale(balances.EscrowAllowance, t.decimals))
	LastUpdateTimestamp.Set(float64(time.Now().Unix()))

	t.logger.Debug("poll-complete", zap.Duration("duration", time.Since(start)))
	return nil
}

// Latest returns the balances of the last successful poll, or nil.
func (t *Tracker) Latest() *Balances {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// CanStake reports whether the wallet holds and has approved at least amount
// of collateral. False before the first successful poll.
func (t *Tracker) CanStake(amount *big.Int) bool {
	b := t.Latest()
	if b == nil || amount == nil {
		return false
	}
	return b.Collateral.Cmp(amount) >= 0 && b.EscrowAllowance.Cmp(amount) >= 0
}

// scale converts base units to whole tokens for gauges.
func scale(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(math.Pow10(decimals)))
	out, _ := f.Float64()
	return out
}
