package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/stretchr/testify/require"
)

// Well-known dev keys for the two parties.
const (
	CreatorKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	FillerKeyHex  = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

// TestDomain is the protocol domain used across tests.
func TestDomain() signing.Domain {
	return signing.Domain{
		Name:              "BilateralWager",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
}

// Parties returns the creator and filler signers.
func Parties(t testing.TB) (creator *signing.Signer, filler *signing.Signer) {
	t.Helper()

	creator, err := signing.NewSigner(CreatorKeyHex)
	require.NoError(t, err)
	filler, err = signing.NewSigner(FillerKeyHex)
	require.NoError(t, err)
	return creator, filler
}
