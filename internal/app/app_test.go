package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/internal/testutil"
	"github.com/mselser95/p2p-wager/pkg/config"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const escrowAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		LogLevel:                "debug",
		HTTPPort:                "0",
		P2PPort:                 "1",
		RateLimitPerSec:         5,
		RateLimitBurst:          10,
		BotPrivateKey:           testutil.CreatorKeyHex,
		ChainID:                 31337,
		EscrowAddress:           escrowAddress,
		ProtocolName:            "BilateralWager",
		ProtocolVersion:         "1",
		MessageExpiryWindow:     5 * time.Minute,
		CounterRounds:           1,
		EscalationInterval:      time.Minute,
		WalletPollInterval:      time.Minute,
		PrimaryRPCURL:           "http://127.0.0.1:1",
		TxReceiptWait:           time.Second,
		PriceSourceURL:          "http://127.0.0.1:2",
		PriceCacheFreshness:     time.Minute,
		BackendSyncInterval:     time.Minute,
		DiscoveryCacheTTL:       time.Minute,
		DiscoveryPollInterval:   time.Minute,
		TransportMaxAttempts:    1,
		TransportBaseDelay:      time.Millisecond,
		TransportMaxDelay:       time.Second,
		TransportAttemptTimeout: time.Second,
		BreakerFailureThreshold: 3,
		BreakerCooldown:         time.Minute,
		StorageMode:             "console",
	}
}

func writePortfolio(t *testing.T, dir string) *merkle.Tree {
	t.Helper()

	tree, err := merkle.BuildTree("snap-app",
		merkle.BitmapFromBools([]bool{true, false}),
		[]int64{6500000, 310000},
		[]string{"BTC", "ETH"},
		[]string{"up:5", "down:2.5"})
	require.NoError(t, err)

	raw, err := json.Marshal(merkle.PortfolioFromTree(tree, common.Address{}, common.Address{}))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snap-app.json"), raw, 0o600))
	return tree
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, zap.NewNop())
	require.Error(t, err)

	_, err = New(testConfig(t), nil)
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.BotPrivateKey = ""
	_, err = New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_PRIVATE_KEY")

	cfg = testConfig(t)
	cfg.BotPrivateKey = "not-a-key"
	_, err = New(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNew_WiresComponents(t *testing.T) {
	t.Parallel()

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backendSrv.Close)

	dir := t.TempDir()
	tree := writePortfolio(t, dir)

	cfg := testConfig(t)
	cfg.PortfolioDir = dir
	cfg.BackendURL = backendSrv.URL
	cfg.CollateralToken = "0x2222222222222222222222222222222222222222"

	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	creator, err := signing.NewSigner(testutil.CreatorKeyHex)
	require.NoError(t, err)

	assert.Equal(t, creator.Address(), a.engine.Address())
	assert.Equal(t, 1, a.book.Len())
	_, ok := a.book.Tree(tree.Root)
	assert.True(t, ok)
	assert.NotNil(t, a.backendSync)
	assert.NotNil(t, a.wallet)
	assert.Nil(t, a.stream)
	assert.Len(t, a.rpcs, 1)

	rec := httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "price-source")
	assert.Contains(t, rec.Body.String(), "primary-rpc")
	assert.Contains(t, rec.Body.String(), "backend")

	require.NotNil(t, a.negotiator)
	rec = httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/offers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"offers":[],"pending":[]}`, rec.Body.String())
}

func TestNew_StreamSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PriceStreamURL = "ws://127.0.0.1:3/ws"

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.stream)
	assert.NotNil(t, a.streamSource)
	assert.Nil(t, a.backendSync)
	assert.Nil(t, a.wallet)
}

func TestNew_BadPortfolio(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"trades":`), 0o600))

	cfg := testConfig(t)
	cfg.PortfolioDir = dir

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load portfolios")
}

func TestDomain(t *testing.T) {
	t.Parallel()

	d := Domain(testConfig(t))
	assert.Equal(t, "BilateralWager", d.Name)
	assert.Equal(t, "1", d.Version)
	assert.Equal(t, int64(31337), d.ChainID.Int64())
	assert.Equal(t, common.HexToAddress(escrowAddress), d.VerifyingContract)
}

func TestNewLedger_DialFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PrimaryRPCURL = "unsupported://nowhere"

	_, _, rpcs, err := NewLedger(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
	assert.Empty(t, rpcs)
}

type staticInfo struct {
	info *types.PeerInfo
	err  error
}

func (s staticInfo) GetPeerInfo(context.Context, string) (*types.PeerInfo, error) {
	return s.info, s.err
}

func TestCheckPeer(t *testing.T) {
	t.Parallel()

	domain := Domain(testConfig(t))
	peer := types.Peer{Address: common.HexToAddress("0x2222222222222222222222222222222222222222"), Endpoint: "http://peer:8545"}
	matching := func() *types.PeerInfo {
		return &types.PeerInfo{
			Address:           peer.Address.Hex(),
			ProtocolName:      "BilateralWager",
			ProtocolVersion:   "1",
			ChainID:           "31337",
			VerifyingContract: strings.ToLower(escrowAddress),
		}
	}

	tests := []struct {
		name   string
		mutate func(*types.PeerInfo)
		err    error
		want   bool
	}{
		{name: "same domain", want: true},
		{name: "other chain", mutate: func(i *types.PeerInfo) { i.ChainID = "1" }},
		{name: "other escrow", mutate: func(i *types.PeerInfo) { i.VerifyingContract = "0x0000000000000000000000000000000000000001" }},
		{name: "other version", mutate: func(i *types.PeerInfo) { i.ProtocolVersion = "2" }},
		{name: "unreachable", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := matching()
			if tt.mutate != nil {
				tt.mutate(info)
			}
			fetcher := staticInfo{info: info, err: tt.err}
			assert.Equal(t, tt.want, checkPeer(context.Background(), fetcher, domain, peer, zaptest.NewLogger(t)))
		})
	}
}

func TestDomainMismatch(t *testing.T) {
	t.Parallel()

	domain := Domain(testConfig(t))
	info := &types.PeerInfo{ProtocolName: "BilateralWager", ProtocolVersion: "1", ChainID: "31337", VerifyingContract: escrowAddress}
	assert.Empty(t, domainMismatch(domain, info))

	info.ProtocolName = "Other"
	assert.Equal(t, "protocolName", domainMismatch(domain, info))
}
