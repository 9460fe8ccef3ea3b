package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/testutil"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	selfAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	peerA    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	peerB    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeRegistry struct {
	mu    sync.Mutex
	addrs []common.Address
	urls  []string
	err   error
	calls int
}

func (f *fakeRegistry) ActiveBots(context.Context) ([]common.Address, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return append([]common.Address(nil), f.addrs...), append([]string(nil), f.urls...), nil
}

func (f *fakeRegistry) set(addrs []common.Address, urls []string) {
	f.mu.Lock()
	f.addrs, f.urls = addrs, urls
	f.mu.Unlock()
}

func (f *fakeRegistry) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChecker struct {
	healthy map[string]bool
	probes  atomic.Int32
}

func (f *fakeChecker) CheckPeerHealth(_ context.Context, endpoint string) bool {
	f.probes.Add(1)
	return f.healthy[endpoint]
}

func newService(t *testing.T, reg Registry, clock *testutil.Clock) *Service {
	t.Helper()

	svc, err := New(&Config{
		Registry:     reg,
		Cache:        testutil.NewMapCache(clock.Now),
		Self:         selfAddr,
		CacheTTL:     30 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	c := testutil.NewMapCache(nil)
	reg := &fakeRegistry{}

	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"nil config", nil, "config cannot be nil"},
		{"nil registry", &Config{Cache: c, Logger: logger, CacheTTL: time.Second}, "registry cannot be nil"},
		{"nil cache", &Config{Registry: reg, Logger: logger, CacheTTL: time.Second}, "cache cannot be nil"},
		{"nil logger", &Config{Registry: reg, Cache: c, CacheTTL: time.Second}, "logger cannot be nil"},
		{"zero ttl", &Config{Registry: reg, Cache: c, Logger: logger}, "cache ttl must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPeers_ExcludesSelfAndEmptyEndpoints(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		addrs: []common.Address{selfAddr, peerA, peerB},
		urls:  []string{"http://self:9000", " http://a:9000 ", ""},
	}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))

	peers := svc.Peers(context.Background())
	require.Len(t, peers, 1)
	assert.Equal(t, peerA, peers[0].Address)
	assert.Equal(t, "http://a:9000", peers[0].Endpoint)
}

func TestPeers_ServedFromCacheWithinTTL(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	reg := &fakeRegistry{addrs: []common.Address{peerA}, urls: []string{"http://a:9000"}}
	svc := newService(t, reg, clock)
	ctx := context.Background()

	first := svc.Peers(ctx)
	reg.set([]common.Address{peerA, peerB}, []string{"http://a:9000", "http://b:9000"})

	clock.Advance(29 * time.Second)
	second := svc.Peers(ctx)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, reg.Calls())

	clock.Advance(2 * time.Second)
	third := svc.Peers(ctx)
	assert.Len(t, third, 2)
	assert.Equal(t, 2, reg.Calls())
}

func TestPeers_CallerCannotMutateCache(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA}, urls: []string{"http://a:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()

	peers := svc.Peers(ctx)
	peers[0].Endpoint = "http://evil"

	assert.Equal(t, "http://a:9000", svc.Peers(ctx)[0].Endpoint)
}

func TestRefresh_BypassesCache(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA}, urls: []string{"http://a:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()

	svc.Peers(ctx)
	reg.set([]common.Address{peerB}, []string{"http://b:9000"})

	peers := svc.Refresh(ctx)
	require.Len(t, peers, 1)
	assert.Equal(t, peerB, peers[0].Address)
	assert.Equal(t, 2, reg.Calls())
}

func TestPeers_RegistryErrorYieldsEmptySet(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{err: errors.New("rpc down")}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))

	peers := svc.Peers(context.Background())
	assert.NotNil(t, peers)
	assert.Empty(t, peers)
}

func TestPeers_LengthMismatchTruncates(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA, peerB}, urls: []string{"http://a:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))

	peers := svc.Peers(context.Background())
	require.Len(t, peers, 1)
	assert.Equal(t, peerA, peers[0].Address)
}

func TestFindPeer(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA, peerB}, urls: []string{"http://a:9000", "http://b:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()

	p, ok := svc.FindPeer(ctx, peerB)
	require.True(t, ok)
	assert.Equal(t, "http://b:9000", p.Endpoint)

	_, ok = svc.FindPeer(ctx, selfAddr)
	assert.False(t, ok)
}

func TestHealthyPeers(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA, peerB}, urls: []string{"http://a:9000", "http://b:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))
	checker := &fakeChecker{healthy: map[string]bool{"http://b:9000": true}}

	healthy := svc.HealthyPeers(context.Background(), checker)
	require.Len(t, healthy, 1)
	assert.Equal(t, peerB, healthy[0].Address)
	assert.Equal(t, int32(2), checker.probes.Load())
}

func TestRun_AnnouncesNewPeersOnce(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{addrs: []common.Address{peerA}, urls: []string{"http://a:9000"}}
	svc := newService(t, reg, testutil.NewClock(time.Unix(1_700_000_000, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	var got types.Peer
	select {
	case got = <-svc.NewPeersChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first peer")
	}
	assert.Equal(t, peerA, got.Address)

	reg.set([]common.Address{peerA, peerB}, []string{"http://a:9000", "http://b:9000"})

	select {
	case got = <-svc.NewPeersChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second peer")
	}
	assert.Equal(t, peerB, got.Address)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	for p := range svc.NewPeersChan() {
		assert.NotEqual(t, peerA, p.Address)
		assert.NotEqual(t, peerB, p.Address)
	}
}

func TestRun_RequiresPollInterval(t *testing.T) {
	t.Parallel()

	svc, err := New(&Config{
		Registry: &fakeRegistry{},
		Cache:    testutil.NewMapCache(nil),
		CacheTTL: time.Second,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Error(t, svc.Run(context.Background()))
}
