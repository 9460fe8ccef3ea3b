// Package discovery resolves counterparties from the on-chain bot registry.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/cache"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const peersCacheKey = "peers"

// Registry lists active bots and their advertised endpoints, index-aligned.
type Registry interface {
	ActiveBots(ctx context.Context) (addresses []common.Address, endpoints []string, err error)
}

// HealthChecker probes a peer endpoint.
type HealthChecker interface {
	CheckPeerHealth(ctx context.Context, endpoint string) bool
}

// Service discovers peers by reading the registry through a TTL cache.
type Service struct {
	registry     Registry
	cache        cache.Cache
	self         common.Address
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger

	mu         sync.RWMutex
	known      map[common.Address]types.Peer
	newPeersCh chan types.Peer
}

// Config holds discovery service configuration.
type Config struct {
	Registry     Registry
	Cache        cache.Cache
	Self         common.Address
	CacheTTL     time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New creates a new discovery service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}

	return &Service{
		registry:     cfg.Registry,
		cache:        cfg.Cache,
		self:         cfg.Self,
		ttl:          cfg.CacheTTL,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		known:        make(map[common.Address]types.Peer),
		newPeersCh:   make(chan types.Peer, 100),
	}, nil
}

// Peers returns the active peers, excluding self. A cached set younger than
// the TTL is returned without touching the registry. A registry failure
// yields an empty set.
func (s *Service) Peers(ctx context.Context) []types.Peer {
	if value, found := s.cache.Get(peersCacheKey); found {
		if peers, ok := value.([]types.Peer); ok {
			CacheHitsTotal.Inc()
			return clonePeers(peers)
		}
		s.logger.Warn("invalid-peers-type-in-cache")
	}

	return s.query(ctx)
}

// Refresh drops the cached set and re-reads the registry.
func (s *Service) Refresh(ctx context.Context) []types.Peer {
	s.cache.Delete(peersCacheKey)
	RefreshesTotal.Inc()
	return s.query(ctx)
}

// FindPeer looks up one peer by address.
func (s *Service) FindPeer(ctx context.Context, addr common.Address) (types.Peer, bool) {
	for _, p := range s.Peers(ctx) {
		if p.Address == addr {
			return p, true
		}
	}
	return types.Peer{}, false
}

// HealthyPeers probes every peer concurrently and keeps those that answer.
func (s *Service) HealthyPeers(ctx context.Context, checker HealthChecker) []types.Peer {
	peers := s.Peers(ctx)
	healthy := make([]bool, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range peers {
		i := i
		g.Go(func() error {
			healthy[i] = checker.CheckPeerHealth(gctx, peers[i].Endpoint)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]types.Peer, 0, len(peers))
	for i, ok := range healthy {
		if ok {
			out = append(out, peers[i])
		}
	}

	HealthyPeersGauge.Set(float64(len(out)))
	return out
}

// Run refreshes the peer set on every poll interval and announces new peers.
func (s *Service) Run(ctx context.Context) error {
	if s.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	s.logger.Info("discovery-service-starting",
		zap.Duration("poll-interval", s.pollInterval),
		zap.Duration("cache-ttl", s.ttl))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.announce(s.Refresh(ctx))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery-service-stopping")
			close(s.newPeersCh)
			return ctx.Err()
		case <-ticker.C:
			s.announce(s.Refresh(ctx))
		}
	}
}

// NewPeersChan returns the channel of peers seen for the first time by Run.
func (s *Service) NewPeersChan() <-chan types.Peer {
	return s.newPeersCh
}

func (s *Service) query(ctx context.Context) []types.Peer {
	start := time.Now()
	defer func() {
		PollDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	addresses, endpoints, err := s.registry.ActiveBots(ctx)
	if err != nil {
		PollErrorsTotal.Inc()
		s.logger.Warn("registry-read-failed", zap.Error(err))
		return []types.Peer{}
	}

	if len(addresses) != len(endpoints) {
		s.logger.Warn("registry-length-mismatch",
			zap.Int("addresses", len(addresses)),
			zap.Int("endpoints", len(endpoints)))
	}

	n := min(len(addresses), len(endpoints))
	peers := make([]types.Peer, 0, n)
	for i := 0; i < n; i++ {
		if addresses[i] == s.self {
			continue
		}
		endpoint := strings.TrimSpace(endpoints[i])
		if endpoint == "" {
			continue
		}
		peers = append(peers, types.Peer{Address: addresses[i], Endpoint: endpoint})
	}

	if !s.cache.Set(peersCacheKey, clonePeers(peers), s.ttl) {
		s.logger.Warn("failed-to-cache-peers")
	}
	s.cache.Wait()

	PeersDiscovered.Set(float64(len(peers)))
	s.logger.Debug("peers-resolved",
		zap.Int("peers", len(peers)),
		zap.Duration("duration", time.Since(start)))

	return peers
}

func (s *Service) announce(peers []types.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range peers {
		if prev, exists := s.known[p.Address]; exists && prev.Endpoint == p.Endpoint {
			continue
		}
		s.known[p.Address] = p

		select {
		case s.newPeersCh <- p:
			NewPeersTotal.Inc()
			s.logger.Info("new-peer-discovered",
				zap.String("address", p.Address.Hex()),
				zap.String("endpoint", p.Endpoint))
		default:
			s.logger.Warn("new-peers-channel-full",
				zap.String("address", p.Address.Hex()))
		}
	}
}

func clonePeers(peers []types.Peer) []types.Peer {
	out := make([]types.Peer, len(peers))
	copy(out, peers)
	return out
}
