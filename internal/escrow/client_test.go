package escrow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu          sync.Mutex
	parsed      abi.ABI
	callOutputs map[string][]byte
	callErr     error
	estimateErr error
	sent        []*ethtypes.Transaction
	receipt     *ethtypes.Receipt
	pendingMiss int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	require.NoError(t, err)
	return &fakeBackend{parsed: parsed, callOutputs: map[string][]byte{}}
}

func (f *fakeBackend) setOutput(t *testing.T, method string, values ...interface{}) {
	t.Helper()
	data, err := f.parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	f.callOutputs[method] = data
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := f.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	return f.callOutputs[method.Name], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingMiss > 0 {
		f.pendingMiss--
		return nil, ethereum.NotFound
	}
	r := *f.receipt
	r.TxHash = txHash
	return &r, nil
}

func newTestClient(t *testing.T, backend Backend, withKey bool) *Client {
	t.Helper()

	cfg := &Config{
		Backend:     backend,
		Contract:    contractAddr,
		ChainID:     big.NewInt(31337),
		ReceiptWait: time.Second,
		Logger:      zaptest.NewLogger(t),
	}
	if withKey {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		cfg.PrivateKey = key
	}

	c, err := New(cfg)
	require.NoError(t, err)
	c.pollEvery = time.Millisecond
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	backend := newFakeBackend(t)

	tests := []struct {
		name   string
		cfg    *Config
		errMsg string
	}{
		{name: "nil-config", cfg: nil, errMsg: "config cannot be nil"},
		{name: "nil-backend", cfg: &Config{ChainID: big.NewInt(1), Contract: contractAddr, Logger: logger}, errMsg: "backend cannot be nil"},
		{name: "nil-chain", cfg: &Config{Backend: backend, Contract: contractAddr, Logger: logger}, errMsg: "chain id cannot be nil"},
		{name: "nil-logger", cfg: &Config{Backend: backend, ChainID: big.NewInt(1), Contract: contractAddr}, errMsg: "logger cannot be nil"},
		{name: "zero-contract", cfg: &Config{Backend: backend, ChainID: big.NewInt(1), Logger: logger}, errMsg: "contract address cannot be zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetBet(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	filler := common.HexToAddress("0x2222222222222222222222222222222222222222")
	root := common.HexToHash("0xbeef")

	backend.setOutput(t, "bets", [32]byte(root), creator, filler,
		big.NewInt(600), big.NewInt(400), big.NewInt(1_900_000_000), big.NewInt(1_800_000_000), uint8(1))

	c := newTestClient(t, backend, false)
	bet, err := c.GetBet(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), bet.ID)
	assert.Equal(t, root, bet.TradesRoot)
	assert.Equal(t, creator, bet.Creator)
	assert.Equal(t, filler, bet.Filler)
	assert.Equal(t, int64(1000), bet.TotalLocked().Int64())
	assert.Equal(t, types.BetStatusActive, bet.Status)
	assert.Equal(t, int64(1_900_000_000), bet.Deadline.Unix())
}

func TestGetBet_NotFound(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.setOutput(t, "bets", [32]byte{}, common.Address{}, common.Address{},
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), uint8(0))

	c := newTestClient(t, backend, false)
	_, err := c.GetBet(context.Background(), 99)

	be, ok := types.AsBusinessError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrBetNotFound, be.Code)
}

func TestGetBet_RPCFailure(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.callErr = errors.New("connection refused")

	c := newTestClient(t, backend, false)
	_, err := c.GetBet(context.Background(), 1)
	require.Error(t, err)

	_, isBusiness := types.AsBusinessError(err)
	assert.False(t, isBusiness)
}

func TestNonceOfAndActiveBots(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	bots := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	backend.setOutput(t, "nonces", big.NewInt(42))
	backend.setOutput(t, "getActiveBots", bots, []string{"http://a:9090", "http://b:9090"})

	c := newTestClient(t, backend, false)

	nonce, err := c.NonceOf(context.Background(), bots[0])
	require.NoError(t, err)
	assert.Equal(t, int64(42), nonce.Int64())

	addrs, endpoints, err := c.ActiveBots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bots, addrs)
	assert.Equal(t, []string{"http://a:9090", "http://b:9090"}, endpoints)
}

func TestTransact_ReadOnly(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeBackend(t), false)
	_, err := c.RequestArbitration(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestTransact_Success(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.receipt = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, GasUsed: 21000}
	backend.pendingMiss = 2

	c := newTestClient(t, backend, true)
	res, err := c.SettleByAgreement(context.Background(), &signing.SettlementAgreement{
		BetID:  5,
		Winner: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:  big.NewInt(1),
		Expiry: 100,
	}, make([]byte, 65), make([]byte, 65))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.TxHash)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, contractAddr, *tx.To())

	method, err := c.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "settleByAgreement", method.Name)
}

func TestTransact_CommitReturnsBetID(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	c := newTestClient(t, backend, true)

	event := c.abi.Events["BetCommitted"]
	backend.receipt = &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		Logs: []*ethtypes.Log{{
			Address: contractAddr,
			Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(12))},
		}},
	}

	res, err := c.CommitBilateralBet(context.Background(), &signing.BetCommitment{
		TradesRoot:    common.HexToHash("0x01"),
		CreatorAmount: big.NewInt(1),
		FillerAmount:  big.NewInt(1),
		Nonce:         big.NewInt(0),
	}, make([]byte, 65), make([]byte, 65))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(12), res.BetID)
}

func TestTransact_RevertIsBusinessRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason string
		code   string
	}{
		{reason: "execution reverted: BetNotActive()", code: types.ErrBetNotActive},
		{reason: "execution reverted: bet not found", code: types.ErrBetNotFound},
		{reason: "execution reverted: SignatureExpired", code: types.ErrSignatureExpired},
		{reason: "execution reverted: InvalidWinner", code: types.ErrInvalidWinner},
		{reason: "execution reverted: InvalidPayout", code: types.ErrPayoutMismatch},
		{reason: "execution reverted: DeadlineNotPassed", code: types.ErrDeadlineNotPassed},
		{reason: "execution reverted", code: types.ErrUnknownRevert},
	}

	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.reason, func(t *testing.T) {
			t.Parallel()

			backend := newFakeBackend(t)
			backend.estimateErr = errors.New(tt.reason)

			c := newTestClient(t, backend, true)
			res, err := c.RequestArbitration(context.Background(), 4)

			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.Empty(t, backend.sent)
		})
	}
}

func TestTransact_TransportErrorIsError(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.estimateErr = errors.New("dial tcp: connection refused")

	c := newTestClient(t, backend, true)
	_, err := c.RequestArbitration(context.Background(), 4)
	require.Error(t, err)
}

func TestTransact_FailedReceipt(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.receipt = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	c := newTestClient(t, backend, true)
	res, err := c.CustomPayout(context.Background(), &signing.CustomPayoutProposal{
		BetID:         1,
		CreatorPayout: big.NewInt(60),
		FillerPayout:  big.NewInt(40),
		Nonce:         big.NewInt(0),
	}, make([]byte, 65), make([]byte, 65))

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrUnknownRevert, res.Code)
}

func TestTransact_ReceiptTimeoutIsPending(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.receipt = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}
	backend.pendingMiss = 1 << 30

	c := newTestClient(t, backend, true)
	c.receiptWait = 20 * time.Millisecond

	_, err := c.RequestArbitration(context.Background(), 4)
	require.ErrorIs(t, err, ErrTxPending)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pending, ok := AsPending(err)
	require.True(t, ok)
	assert.Equal(t, "requestArbitration", pending.Method)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash(), pending.TxHash)
}

func TestTransact_SendFailureIsNotPending(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t)
	backend.estimateErr = errors.New("dial tcp: connection refused")

	c := newTestClient(t, backend, true)
	_, err := c.RequestArbitration(context.Background(), 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxPending)
}
