package proposal

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	creator = common.HexToAddress("0x1111111111111111111111111111111111111111")
	filler  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	now     = time.Unix(1_700_000_000, 0)
)

type staticNonces struct {
	values map[common.Address]int64
	err    error
}

func (s *staticNonces) NonceOf(_ context.Context, account common.Address) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(s.values[account]), nil
}

func testDomain() signing.Domain {
	return signing.Domain{Name: "BilateralWager", Version: "1", ChainID: big.NewInt(31337)}
}

func newBuilder(t *testing.T, self common.Address, nonces NonceSource) *Builder {
	t.Helper()
	b, err := NewBuilder(&Config{
		Self:         self,
		Nonces:       nonces,
		ExpiryWindow: 5 * time.Minute,
		Now:          func() time.Time { return now },
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return b
}

func testTree(t *testing.T) *merkle.Tree {
	t.Helper()
	tree, err := merkle.BuildTree("snap", merkle.BitmapFromBools([]bool{true, false}),
		[]int64{10000, 20000}, []string{"AAA", "BBB"}, []string{"up:5", "down:5"})
	require.NoError(t, err)
	return tree
}

func TestComputeRequiredMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stake   int64
		oddsBps uint64
		want    int64
	}{
		{name: "even", stake: 1_000_000, oddsBps: 10000, want: 1_000_000},
		{name: "double", stake: 1_000_000, oddsBps: 20000, want: 2_000_000},
		{name: "half", stake: 1_000_000, oddsBps: 5000, want: 500_000},
		{name: "floor", stake: 3, oddsBps: 5000, want: 1},
		{name: "zero-odds", stake: 100, oddsBps: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComputeRequiredMatch(big.NewInt(tt.stake), tt.oddsBps)
			assert.Equal(t, 0, got.Cmp(big.NewInt(tt.want)), "got %s", got)
		})
	}

	assert.Equal(t, 0, ComputeRequiredMatch(nil, 10000).Sign())
}

func TestComputeRequiredMatch_Linear(t *testing.T) {
	t.Parallel()

	stake := big.NewInt(10_000)
	for odds := uint64(1); odds <= 40000; odds *= 3 {
		single := ComputeRequiredMatch(stake, odds)
		double := ComputeRequiredMatch(stake, odds*2)
		assert.Equal(t, 0, double.Cmp(new(big.Int).Mul(single, big.NewInt(2))), "odds %d", odds)
	}
}

func TestNewBuilder_Validation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	nonces := &staticNonces{}

	tests := []struct {
		name   string
		cfg    *Config
		errMsg string
	}{
		{name: "nil-config", cfg: nil, errMsg: "config cannot be nil"},
		{name: "nil-nonces", cfg: &Config{Logger: logger, ExpiryWindow: time.Minute}, errMsg: "nonce source cannot be nil"},
		{name: "nil-logger", cfg: &Config{Nonces: nonces, ExpiryWindow: time.Minute}, errMsg: "logger cannot be nil"},
		{name: "zero-window", cfg: &Config{Nonces: nonces, Logger: logger}, errMsg: "expiry window must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewBuilder(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNegotiationFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	nonces := &staticNonces{values: map[common.Address]int64{creator: 3, filler: 8}}
	domain := testDomain()
	tree := testTree(t)

	maker := newBuilder(t, creator, nonces)
	taker := newBuilder(t, filler, nonces)

	p, err := maker.Proposal(ctx, tree, big.NewInt(1_000_000), 15000, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tree.Root, p.TradesRoot)
	assert.Equal(t, int64(3), p.Nonce.Int64())
	assert.Equal(t, uint64(now.Add(5*time.Minute).Unix()), p.Expiry)

	a, err := taker.Acceptance(ctx, domain, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), a.FillAmount.Int64())
	assert.Equal(t, int64(8), a.Nonce.Int64())
	require.NoError(t, ValidateAcceptance(domain, p, a))

	c, err := maker.Commitment(ctx, p, a)
	require.NoError(t, err)
	assert.Equal(t, creator, c.Creator)
	assert.Equal(t, filler, c.Filler)
	assert.Equal(t, int64(3), c.Nonce.Int64())
	require.NoError(t, ValidateCommitment(p, a, c))

	c.FillerAmount = big.NewInt(1)
	assert.ErrorIs(t, ValidateCommitment(p, a, c), ErrCommitmentInvalid)
}

func TestProposal_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newBuilder(t, creator, &staticNonces{})
	tree := testTree(t)
	later := now.Add(time.Hour)

	_, err := b.Proposal(ctx, tree, big.NewInt(0), 10000, later)
	assert.ErrorIs(t, err, ErrInvalidStake)

	_, err = b.Proposal(ctx, tree, big.NewInt(1), 0, later)
	assert.ErrorIs(t, err, ErrInvalidOdds)

	_, err = b.Proposal(ctx, tree, big.NewInt(1), MaxOddsBps+1, later)
	assert.ErrorIs(t, err, ErrInvalidOdds)

	_, err = b.Proposal(ctx, tree, big.NewInt(1), 10000, now)
	assert.ErrorIs(t, err, ErrDeadlineInPast)

	failing := newBuilder(t, creator, &staticNonces{err: errors.New("rpc down")})
	_, err = failing.Proposal(ctx, tree, big.NewInt(1), 10000, later)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestAcceptance_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	nonces := &staticNonces{}
	domain := testDomain()
	maker := newBuilder(t, creator, nonces)
	taker := newBuilder(t, filler, nonces)

	p, err := maker.Proposal(ctx, testTree(t), big.NewInt(100), 10000, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = maker.Acceptance(ctx, domain, p)
	assert.ErrorIs(t, err, ErrSelfAcceptance)

	stale := *p
	stale.Expiry = uint64(now.Unix()) - 1
	_, err = taker.Acceptance(ctx, domain, &stale)
	assert.ErrorIs(t, err, ErrProposalExpired)
}

func TestValidateAcceptance(t *testing.T) {
	t.Parallel()

	domain := testDomain()
	p := &signing.TradeProposal{
		TradesRoot:    common.HexToHash("0x01"),
		Creator:       creator,
		CreatorAmount: big.NewInt(1000),
		OddsBps:       10000,
		Deadline:      2_000_000_000,
		Nonce:         big.NewInt(0),
		Expiry:        1_800_000_000,
	}
	hash, err := signing.Hash(domain, p)
	require.NoError(t, err)

	tests := []struct {
		name    string
		accept  *signing.TradeAcceptance
		wantErr error
	}{
		{
			name:   "valid",
			accept: &signing.TradeAcceptance{ProposalHash: hash, Filler: filler, FillAmount: big.NewInt(1000), Nonce: big.NewInt(0), Expiry: 1},
		},
		{
			name:    "wrong-hash",
			accept:  &signing.TradeAcceptance{ProposalHash: common.HexToHash("0x02"), Filler: filler, FillAmount: big.NewInt(1000)},
			wantErr: ErrHashMismatch,
		},
		{
			name:    "wrong-amount",
			accept:  &signing.TradeAcceptance{ProposalHash: hash, Filler: filler, FillAmount: big.NewInt(999)},
			wantErr: ErrFillMismatch,
		},
		{
			name:    "self",
			accept:  &signing.TradeAcceptance{ProposalHash: hash, Filler: creator, FillAmount: big.NewInt(1000)},
			wantErr: ErrSelfAcceptance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateAcceptance(domain, p, tt.accept)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
