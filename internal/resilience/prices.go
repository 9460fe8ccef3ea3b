package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/internal/pricefeed"
	"github.com/mselser95/p2p-wager/pkg/cache"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// DefaultPriceFreshness bounds how old a cached snapshot may be when served as a fallback.
const DefaultPriceFreshness = 30 * time.Minute

// ErrPricesUnavailable is returned when the source failed and no fresh snapshot is cached.
var ErrPricesUnavailable = errors.New("prices unavailable")

type snapshot struct {
	prices    types.Prices
	fetchedAt time.Time
}

// PriceService is a pricefeed.Source guarded by a breaker, falling back to the
// last-known snapshot per mode.
type PriceService struct {
	source    pricefeed.Source
	breaker   *circuitbreaker.Breaker
	cache     cache.Cache
	freshness time.Duration
	now       func() time.Time
	logger    *zap.Logger

	servingCache atomic.Bool
}

// PriceConfig holds price service configuration.
type PriceConfig struct {
	Source    pricefeed.Source
	Breaker   *circuitbreaker.Breaker
	Cache     cache.Cache
	Freshness time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// NewPriceService creates a resilient price source.
func NewPriceService(cfg *PriceConfig) (*PriceService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("breaker cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = DefaultPriceFreshness
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &PriceService{
		source:    cfg.Source,
		breaker:   cfg.Breaker,
		cache:     cfg.Cache,
		freshness: freshness,
		now:       now,
		logger:    cfg.Logger,
	}, nil
}

// FetchPrices implements pricefeed.Source.
func (s *PriceService) FetchPrices(ctx context.Context, mode types.PriceMode) (types.Prices, error) {
	var live types.Prices
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		p, err := s.source.FetchPrices(ctx, mode)
		if err != nil {
			return err
		}
		live = p
		return nil
	}, countable)

	if err == nil {
		s.servingCache.Store(false)
		s.cache.Set(cacheKey(mode), snapshot{prices: live.Clone(), fetchedAt: s.now()}, s.freshness)
		s.cache.Wait()
		return live, nil
	}

	if snap, ok := s.lastKnown(mode); ok {
		age := s.now().Sub(snap.fetchedAt)
		if age <= s.freshness {
			s.servingCache.Store(true)
			FallbacksTotal.WithLabelValues(DependencyPriceSource, string(FallbackCache)).Inc()
			s.logger.Warn("serving-cached-prices",
				zap.String("mode", string(mode)),
				zap.Duration("age", age),
				zap.Error(err))
			return snap.prices.Clone(), nil
		}
	}

	FallbackMissesTotal.WithLabelValues(DependencyPriceSource).Inc()
	return nil, fmt.Errorf("%w (%s): %w", ErrPricesUnavailable, mode, err)
}

func (s *PriceService) lastKnown(mode types.PriceMode) (snapshot, bool) {
	v, ok := s.cache.Get(cacheKey(mode))
	if !ok {
		return snapshot{}, false
	}
	snap, ok := v.(snapshot)
	return snap, ok
}

// Name implements Reporter.
func (s *PriceService) Name() string { return DependencyPriceSource }

// Health implements Reporter.
func (s *PriceService) Health() DependencyHealth {
	return health(s.breaker.State(), s.servingCache.Load(), FallbackCache)
}

func cacheKey(mode types.PriceMode) string {
	return "prices:" + string(mode)
}
