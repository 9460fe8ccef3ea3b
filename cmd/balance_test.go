package cmd

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/testutil"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    *big.Int
		decimals int
		want     string
	}{
		{name: "collateral", value: big.NewInt(150_250_000), decimals: 6, want: "150.250000"},
		{name: "zero", value: big.NewInt(0), decimals: 6, want: "0.000000"},
		{name: "nil", value: nil, decimals: 6, want: "0"},
		{name: "native", value: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)), decimals: 18, want: "2.000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatUnits(tt.value, tt.decimals))
		})
	}
}

func TestBalanceOwner(t *testing.T) {
	t.Parallel()

	explicit := "0x1111111111111111111111111111111111111111"
	got, err := balanceOwner(explicit, "")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(explicit), got)

	_, err = balanceOwner("0x12", "")
	require.Error(t, err)

	_, err = balanceOwner("", "")
	require.Error(t, err)

	signer, err := signing.NewSigner(testutil.CreatorKeyHex)
	require.NoError(t, err)
	got, err = balanceOwner("", testutil.CreatorKeyHex)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)
}

func TestParseBetID(t *testing.T) {
	t.Parallel()

	id, err := parseBetID("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = parseBetID("-1")
	require.Error(t, err)
	_, err = parseBetID("abc")
	require.Error(t, err)
}
