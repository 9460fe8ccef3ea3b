package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/p2p-wager/internal/backend"
	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"go.uber.org/zap"
)

// Syncer delivers one event to the backend.
type Syncer interface {
	Sync(ctx context.Context, ev backend.Event) error
}

// BackendSync mirrors events to the backend. While the backend is unreachable
// the bot runs on local state and queues events; the queue is drained in order
// on every tick and as soon as the breaker closes.
type BackendSync struct {
	syncer   Syncer
	breaker  *circuitbreaker.Breaker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending []backend.Event
	local   map[uint64]backend.Event

	drainMu sync.Mutex
}

// BackendConfig holds backend sync configuration.
type BackendConfig struct {
	Syncer        Syncer
	Breaker       *circuitbreaker.Breaker
	DrainInterval time.Duration
	Logger        *zap.Logger
}

// NewBackendSync creates a backend sync wrapper and hooks queue draining to
// the breaker closing.
func NewBackendSync(cfg *BackendConfig) (*BackendSync, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("breaker cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	interval := cfg.DrainInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s := &BackendSync{
		syncer:   cfg.Syncer,
		breaker:  cfg.Breaker,
		interval: interval,
		logger:   cfg.Logger,
		local:    make(map[uint64]backend.Event),
	}

	cfg.Breaker.OnClose(func() {
		if _, err := s.Drain(context.Background()); err != nil {
			s.logger.Debug("drain-after-close-incomplete", zap.Error(err))
		}
	})

	return s, nil
}

// Record stores ev in local state and mirrors it. It never fails: an
// undeliverable event is queued.
func (s *BackendSync) Record(ctx context.Context, ev backend.Event) {
	s.mu.Lock()
	if ev.BetID != 0 {
		s.local[ev.BetID] = ev
	}
	queued := len(s.pending) > 0
	if queued {
		s.enqueueLocked(ev)
	}
	s.mu.Unlock()

	if queued {
		// Keep delivery order: anything new goes behind the backlog.
		_, _ = s.Drain(ctx)
		return
	}

	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.syncer.Sync(ctx, ev)
	}, nil)
	if err == nil {
		return
	}

	s.mu.Lock()
	s.enqueueLocked(ev)
	s.mu.Unlock()

	FallbacksTotal.WithLabelValues(DependencyBackend, string(FallbackLocalState)).Inc()
	s.logger.Warn("backend-sync-queued",
		zap.String("event-id", ev.ID),
		zap.String("type", ev.Type),
		zap.Error(err))
}

func (s *BackendSync) enqueueLocked(ev backend.Event) {
	s.pending = append(s.pending, ev)
	PendingSyncQueue.Set(float64(len(s.pending)))
}

// Drain delivers queued events in order, stopping at the first failure.
func (s *BackendSync) Drain(ctx context.Context) (sent int, err error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return sent, nil
		}
		head := s.pending[0]
		s.mu.Unlock()

		err = s.breaker.Do(ctx, func(ctx context.Context) error {
			return s.syncer.Sync(ctx, head)
		}, nil)
		if err != nil {
			return sent, err
		}

		s.mu.Lock()
		s.pending = s.pending[1:]
		PendingSyncQueue.Set(float64(len(s.pending)))
		s.mu.Unlock()

		sent++
		PendingSyncDrainedTotal.Inc()
	}
}

// Run drains the queue on every interval until ctx is done.
func (s *BackendSync) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sent, err := s.Drain(ctx)
			if sent > 0 {
				s.logger.Info("pending-sync-drained", zap.Int("sent", sent), zap.Int("remaining", s.PendingCount()))
			}
			if err != nil {
				s.logger.Debug("pending-sync-drain-stopped", zap.Error(err))
			}
		}
	}
}

// Pending returns a copy of the queue.
func (s *BackendSync) Pending() []backend.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Event(nil), s.pending...)
}

// PendingCount returns the queue length.
func (s *BackendSync) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LocalState returns the latest event recorded for a bet.
func (s *BackendSync) LocalState(betID uint64) (backend.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.local[betID]
	return ev, ok
}

// Name implements Reporter.
func (s *BackendSync) Name() string { return DependencyBackend }

// Health implements Reporter.
func (s *BackendSync) Health() DependencyHealth {
	return health(s.breaker.State(), s.PendingCount() > 0, FallbackLocalState)
}
