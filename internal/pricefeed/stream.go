package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

// TickStream is the subset of the price stream manager a StreamSource consumes.
type TickStream interface {
	TickChan() <-chan types.PriceTick
	Subscribe(tickers []string) error
}

// StreamSource keeps the latest streamed price per ticker and serves them as a snapshot.
// Entry and exit snapshots are both "latest observed price" for a live stream.
type StreamSource struct {
	stream TickStream
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	latest map[string]types.PriceTick
}

// StreamConfig holds stream source configuration.
type StreamConfig struct {
	Stream TickStream
	MaxAge time.Duration // ticks older than this are left out of snapshots; zero keeps all
	Now    func() time.Time
	Logger *zap.Logger
}

// NewStreamSource creates a stream-backed source. Call Run to start consuming.
func NewStreamSource(cfg *StreamConfig) (*StreamSource, error) {
	if cfg == nil || cfg.Stream == nil {
		return nil, ErrNilStream
	}
	if cfg.Logger == nil {
		return nil, ErrNilLogger
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &StreamSource{
		stream: cfg.Stream,
		maxAge: cfg.MaxAge,
		now:    now,
		logger: cfg.Logger,
		latest: make(map[string]types.PriceTick),
	}, nil
}

// Track subscribes to tickers on the underlying stream.
func (s *StreamSource) Track(tickers []string) error {
	return s.stream.Subscribe(tickers)
}

// Run consumes ticks until ctx is done or the stream closes.
func (s *StreamSource) Run(ctx context.Context) error {
	ticks := s.stream.TickChan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				s.logger.Info("price-stream-closed")
				return nil
			}
			s.apply(tick)
		}
	}
}

func (s *StreamSource) apply(tick types.PriceTick) {
	if tick.Ticker == "" || tick.Price < 0 {
		return
	}
	if tick.Timestamp == 0 {
		tick.Timestamp = s.now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.latest[tick.Ticker]; ok && prev.Timestamp > tick.Timestamp {
		return
	}
	s.latest[tick.Ticker] = tick
	TicksAppliedTotal.Inc()
}

// FetchPrices implements Source.
func (s *StreamSource) FetchPrices(_ context.Context, mode types.PriceMode) (types.Prices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := int64(0)
	if s.maxAge > 0 {
		cutoff = s.now().Add(-s.maxAge).Unix()
	}

	prices := make(types.Prices, len(s.latest))
	for ticker, tick := range s.latest {
		if tick.Timestamp < cutoff {
			continue
		}
		prices[ticker] = tick.Price
	}

	if len(prices) == 0 {
		FetchErrorsTotal.WithLabelValues("stream").Inc()
		return nil, ErrNoPrices
	}

	s.logger.Debug("stream-snapshot",
		zap.String("mode", string(mode)),
		zap.Int("count", len(prices)))

	return prices, nil
}
