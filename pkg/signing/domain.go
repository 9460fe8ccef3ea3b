// Package signing defines the typed, domain-separated messages of the wager
// protocol and signs and verifies them with EIP-712.
package signing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain binds every signature to one protocol instance on one network.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Primary type names. These strings are part of every type hash.
const (
	TypeProposal            = "TradeProposal"
	TypeAcceptance          = "TradeAcceptance"
	TypeCommitment          = "BetCommitment"
	TypeSettlementAgreement = "SettlementAgreement"
	TypeCustomPayout        = "CustomPayoutProposal"
)

// eip712Types lists the canonical field order of every message kind.
var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	TypeProposal: {
		{Name: "tradesRoot", Type: "bytes32"},
		{Name: "creator", Type: "address"},
		{Name: "creatorAmount", Type: "uint256"},
		{Name: "oddsBps", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
	TypeAcceptance: {
		{Name: "proposalHash", Type: "bytes32"},
		{Name: "filler", Type: "address"},
		{Name: "fillAmount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
	TypeCommitment: {
		{Name: "tradesRoot", Type: "bytes32"},
		{Name: "creator", Type: "address"},
		{Name: "filler", Type: "address"},
		{Name: "creatorAmount", Type: "uint256"},
		{Name: "fillerAmount", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
	TypeSettlementAgreement: {
		{Name: "betId", Type: "uint256"},
		{Name: "winner", Type: "address"},
		{Name: "winsCount", Type: "uint256"},
		{Name: "validTrades", Type: "uint256"},
		{Name: "isTie", Type: "bool"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
	TypeCustomPayout: {
		{Name: "betId", Type: "uint256"},
		{Name: "creatorPayout", Type: "uint256"},
		{Name: "fillerPayout", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	},
}

// typesFor returns the domain type plus the single primary type, since
// EIP-712 encodes every type present in the Types map that is referenced.
func typesFor(primary string) apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": eip712Types["EIP712Domain"],
		primary:        eip712Types[primary],
	}
}
