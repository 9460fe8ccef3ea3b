package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned without calling the dependency while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Breaker guards one named dependency.
// While HALF_OPEN exactly one trial call is let through at a time.
type Breaker struct {
	name   string
	policy Policy
	now    func() time.Time
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	trialInFlight bool
	onClose       []func()
}

// Config holds breaker configuration.
type Config struct {
	Name   string
	Policy Policy
	Now    func() time.Time
	Logger *zap.Logger
}

// New creates a closed breaker.
func New(cfg *Config) (breaker *Breaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Policy.FailureThreshold <= 0 {
		return nil, fmt.Errorf("failure threshold must be positive")
	}
	if cfg.Policy.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	breaker = &Breaker{
		name:   cfg.Name,
		policy: cfg.Policy,
		now:    now,
		logger: cfg.Logger.With(zap.String("dependency", cfg.Name)),
	}
	BreakerState.WithLabelValues(cfg.Name).Set(float64(Closed))

	return breaker, nil
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns a snapshot with any due OPEN → HALF_OPEN transition applied.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NextState(b.state, b.now())
}

// OnClose registers fn to run (in its own goroutine) whenever the breaker
// transitions back to CLOSED from OPEN or HALF_OPEN.
func (b *Breaker) OnClose(fn func()) {
	b.mu.Lock()
	b.onClose = append(b.onClose, fn)
	b.mu.Unlock()
}

// Allow reserves a call. It returns ErrOpen if the dependency must not be called.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !CanCall(b.state, now) {
		BreakerRejections.WithLabelValues(b.name).Inc()
		return ErrOpen
	}

	b.transition(NextState(b.state, now))

	if b.state.Phase == HalfOpen {
		if b.trialInFlight {
			BreakerRejections.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.trialInFlight = true
	}

	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.transition(RecordSuccess(b.state))
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.transition(RecordFailure(b.state, b.policy, b.now()))
}

// Do runs fn if allowed and records its result.
// Errors for which countable returns false (business rejections) close the
// breaker like a success, since the dependency answered.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error, countable func(error) bool) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && (countable == nil || countable(err)) {
		b.Failure()
		return err
	}

	b.Success()
	return err
}

// transition must be called with mu held.
func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next

	if prev.Phase == next.Phase {
		return
	}

	BreakerState.WithLabelValues(b.name).Set(float64(next.Phase))
	BreakerTransitions.WithLabelValues(b.name, next.Phase.String()).Inc()

	switch next.Phase {
	case Open:
		b.logger.Warn("circuit-breaker-opened",
			zap.Int("failures", next.Failures),
			zap.Time("open-until", next.OpenUntil))
	case HalfOpen:
		b.logger.Info("circuit-breaker-half-open")
	case Closed:
		b.logger.Info("circuit-breaker-closed", zap.String("from", prev.Phase.String()))
		for _, fn := range b.onClose {
			go fn()
		}
	}
}
