package resilience

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/backend"
	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/internal/escrow"
	"github.com/mselser95/p2p-wager/internal/testutil"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Unix(1_700_000_000, 0)

func newBreaker(t *testing.T, name string, clock *testutil.Clock) *circuitbreaker.Breaker {
	t.Helper()

	b, err := circuitbreaker.New(&circuitbreaker.Config{
		Name:   name,
		Policy: circuitbreaker.DefaultPolicy,
		Now:    clock.Now,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return b
}

type fakeSource struct {
	mu     sync.Mutex
	prices types.Prices
	err    error
	calls  int
}

func (f *fakeSource) FetchPrices(context.Context, types.PriceMode) (types.Prices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices.Clone(), nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newPriceService(t *testing.T, src *fakeSource, clock *testutil.Clock) *PriceService {
	t.Helper()

	svc, err := NewPriceService(&PriceConfig{
		Source:  src,
		Breaker: newBreaker(t, DependencyPriceSource, clock),
		Cache:   testutil.NewMapCache(clock.Now),
		Now:     clock.Now,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc
}

func TestPriceService_ServesCacheWithinFreshness(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	src := &fakeSource{prices: types.Prices{"BTC": 6_500_000}}
	svc := newPriceService(t, src, clock)
	ctx := context.Background()

	prices, err := svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)
	assert.Equal(t, types.Prices{"BTC": 6_500_000}, prices)
	assert.Equal(t, StatusHealthy, svc.Health().Status)

	src.fail(errors.New("price api down"))
	clock.Advance(29 * time.Minute)

	prices, err = svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)
	assert.Equal(t, types.Prices{"BTC": 6_500_000}, prices)
	assert.Equal(t, DependencyHealth{Status: StatusDegraded, Fallback: FallbackCache, Breaker: "CLOSED", Failures: 1}, svc.Health())

	_, err = svc.FetchPrices(ctx, types.PriceModeEntry)
	require.ErrorIs(t, err, ErrPricesUnavailable, "modes are cached separately")
}

func TestPriceService_StaleCacheFails(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	src := &fakeSource{prices: types.Prices{"ETH": 350_000}}
	svc := newPriceService(t, src, clock)
	ctx := context.Background()

	_, err := svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)

	src.fail(errors.New("timeout"))
	clock.Advance(31 * time.Minute)

	_, err = svc.FetchPrices(ctx, types.PriceModeExit)
	require.ErrorIs(t, err, ErrPricesUnavailable)
}

func TestPriceService_OpenBreakerSkipsSource(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	src := &fakeSource{prices: types.Prices{"BTC": 1}}
	svc := newPriceService(t, src, clock)
	ctx := context.Background()

	_, err := svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)

	src.fail(errors.New("down"))
	for i := 0; i < 3; i++ {
		_, err = svc.FetchPrices(ctx, types.PriceModeExit)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, src.Calls())
	assert.Equal(t, "OPEN", svc.Health().Breaker)

	_, err = svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)
	assert.Equal(t, 4, src.Calls(), "open breaker must not reach the source")

	src.fail(nil)
	clock.Advance(61 * time.Second)

	_, err = svc.FetchPrices(ctx, types.PriceModeExit)
	require.NoError(t, err)
	assert.Equal(t, 5, src.Calls())
	assert.Equal(t, StatusHealthy, svc.Health().Status)
}

type ledgerFixture struct {
	clock     *testutil.Clock
	primary   *testutil.MockEscrow
	secondary *testutil.MockEscrow
	ledger    *FailoverLedger
}

func newLedgerFixture(t *testing.T, withSecondary bool) *ledgerFixture {
	t.Helper()

	clock := testutil.NewClock(t0)
	f := &ledgerFixture{
		clock:   clock,
		primary: testutil.NewMockEscrow(testutil.TestDomain(), t0),
	}

	cfg := &LedgerConfig{
		Primary: f.primary,
		Breaker: newBreaker(t, DependencyPrimaryRPC, clock),
		Logger:  zaptest.NewLogger(t),
	}
	if withSecondary {
		f.secondary = testutil.NewMockEscrow(testutil.TestDomain(), t0)
		cfg.Secondary = f.secondary
	}

	l, err := NewFailoverLedger(cfg)
	require.NoError(t, err)
	f.ledger = l
	return f
}

func TestFailoverLedger_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	id := f.primary.PutBet(types.BetRecord{Status: types.BetStatusActive, Deadline: t0.Add(time.Hour)})

	bet, err := f.ledger.GetBet(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, bet.ID)
	assert.Equal(t, 0, f.secondary.Calls("GetBet"))
	assert.Equal(t, StatusHealthy, f.ledger.Health().Status)
}

func TestFailoverLedger_FailsOverOnTransportError(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	f.primary.SetFailure(testutil.ErrLedgerDown)
	f.secondary.PutBet(types.BetRecord{ID: 9, Status: types.BetStatusActive, Deadline: t0.Add(-time.Minute)})

	res, err := f.ledger.RequestArbitration(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.primary.Calls("RequestArbitration"))
	assert.Equal(t, DependencyHealth{Status: StatusDegraded, Fallback: FallbackSecondaryRPC, Breaker: "CLOSED", Failures: 1}, f.ledger.Health())
}

func TestFailoverLedger_OpenBreakerGoesStraightToSecondary(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	f.primary.SetFailure(testutil.ErrLedgerDown)
	ctx := context.Background()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i := 0; i < 3; i++ {
		_, err := f.ledger.NonceOf(ctx, addr)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.primary.Calls("NonceOf"))

	n, err := f.ledger.NonceOf(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 0, n.Cmp(big.NewInt(0)))
	assert.Equal(t, 3, f.primary.Calls("NonceOf"))
	assert.Equal(t, 4, f.secondary.Calls("NonceOf"))
	assert.Equal(t, "OPEN", f.ledger.Health().Breaker)
}

func TestFailoverLedger_BusinessRejectionDoesNotFailOver(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	ctx := context.Background()
	id := f.primary.PutBet(types.BetRecord{Status: types.BetStatusActive, Deadline: t0.Add(time.Hour)})

	res, err := f.ledger.RequestArbitration(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrDeadlineNotPassed, res.Code)

	_, err = f.ledger.GetBet(ctx, 404)
	be, ok := types.AsBusinessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrBetNotFound, be.Code)

	assert.Equal(t, 0, f.secondary.Calls("RequestArbitration"))
	assert.Equal(t, 0, f.secondary.Calls("GetBet"))
	assert.Equal(t, StatusHealthy, f.ledger.Health().Status)
}

func TestFailoverLedger_NoSecondary(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, false)
	f.primary.SetFailure(testutil.ErrLedgerDown)

	_, _, err := f.ledger.ActiveBots(context.Background())
	require.ErrorIs(t, err, testutil.ErrLedgerDown)
}

func TestFailoverLedger_ActiveBots(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	f.secondary.RegisterBot(addr, "http://b:9000")
	f.primary.SetFailure(testutil.ErrLedgerDown)

	addrs, urls, err := f.ledger.ActiveBots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, addrs)
	assert.Equal(t, []string{"http://b:9000"}, urls)
}

type fakeSyncer struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeSyncer) Sync(_ context.Context, ev backend.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev.ID)
	return nil
}

func (f *fakeSyncer) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSyncer) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newBackendSync(t *testing.T, syncer *fakeSyncer, clock *testutil.Clock) *BackendSync {
	t.Helper()

	s, err := NewBackendSync(&BackendConfig{
		Syncer:        syncer,
		Breaker:       newBreaker(t, DependencyBackend, clock),
		DrainInterval: time.Hour,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s
}

func event(id string, betID uint64) backend.Event {
	return backend.Event{ID: id, Type: backend.EventSettlement, BetID: betID, Timestamp: t0.Unix()}
}

func TestBackendSync_QueuesWhileDownAndDrainsInOrder(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	syncer := &fakeSyncer{}
	s := newBackendSync(t, syncer, clock)
	ctx := context.Background()

	s.Record(ctx, event("a", 1))
	assert.Equal(t, []string{"a"}, syncer.Sent())

	syncer.fail(errors.New("backend 503"))
	s.Record(ctx, event("b", 2))
	s.Record(ctx, event("c", 2))
	assert.Equal(t, 2, s.PendingCount())
	assert.Equal(t, DependencyHealth{Status: StatusDegraded, Fallback: FallbackLocalState, Breaker: "CLOSED", Failures: 2}, s.Health())

	local, ok := s.LocalState(2)
	require.True(t, ok)
	assert.Equal(t, "c", local.ID)

	syncer.fail(nil)
	s.Record(ctx, event("d", 3))

	assert.Equal(t, []string{"a", "b", "c", "d"}, syncer.Sent())
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, StatusHealthy, s.Health().Status)
}

func TestBackendSync_DrainsWhenBreakerCloses(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	syncer := &fakeSyncer{}
	s := newBackendSync(t, syncer, clock)
	ctx := context.Background()

	syncer.fail(errors.New("down"))
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Record(ctx, event(id, 1))
	}
	assert.Equal(t, 4, s.PendingCount())
	assert.Equal(t, "OPEN", s.Health().Breaker)

	sent, err := s.Drain(ctx)
	assert.Zero(t, sent)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)

	syncer.fail(nil)
	clock.Advance(61 * time.Second)

	sent, err = s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sent)
	assert.Equal(t, []string{"a", "b", "c", "d"}, syncer.Sent())
	assert.Eventually(t, func() bool { return s.Health().Status == StatusHealthy }, time.Second, 5*time.Millisecond)
}

func TestMonitor_ServiceHealth(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	syncer := &fakeSyncer{}
	bs := newBackendSync(t, syncer, clock)
	f := newLedgerFixture(t, true)
	ps := newPriceService(t, &fakeSource{prices: types.Prices{"BTC": 1}}, clock)

	m := NewMonitor(ps, f.ledger, bs, nil)

	syncer.fail(errors.New("down"))
	bs.Record(context.Background(), event("x", 1))

	health := m.ServiceHealth()
	require.Len(t, health, 3)
	assert.Equal(t, StatusHealthy, health[DependencyPriceSource].Status)
	assert.Equal(t, FallbackNone, health[DependencyPrimaryRPC].Fallback)
	assert.Equal(t, FallbackLocalState, health[DependencyBackend].Fallback)
	assert.Equal(t, []string{DependencyBackend}, m.Degraded())
}

func TestFailoverLedger_PendingWriteDoesNotFailOver(t *testing.T) {
	t.Parallel()

	f := newLedgerFixture(t, true)
	pending := &escrow.PendingError{
		Method: "requestArbitration",
		TxHash: common.HexToHash("0xfeed"),
		Err:    context.DeadlineExceeded,
	}
	f.primary.SetFailure(pending)
	f.secondary.PutBet(types.BetRecord{ID: 9, Status: types.BetStatusActive, Deadline: t0.Add(-time.Minute)})

	_, err := f.ledger.RequestArbitration(context.Background(), 9)
	require.ErrorIs(t, err, escrow.ErrTxPending)
	assert.Equal(t, 1, f.primary.Calls("RequestArbitration"))
	assert.Equal(t, 0, f.secondary.Calls("RequestArbitration"))
	assert.Equal(t, StatusHealthy, f.ledger.Health().Status)
	assert.Equal(t, 0, f.ledger.Health().Failures)
}
