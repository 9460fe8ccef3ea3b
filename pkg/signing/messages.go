package signing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Message is one of the five protocol message kinds.
type Message interface {
	// PrimaryType is the EIP-712 primary type name.
	PrimaryType() string
	// ExpiresAt is the absolute unix time after which a signature is void.
	ExpiresAt() uint64

	typedMessage() apitypes.TypedDataMessage
}

// TradeProposal advertises a committed trade set, the creator's stake and implied odds.
type TradeProposal struct {
	TradesRoot    common.Hash
	Creator       common.Address
	CreatorAmount *big.Int
	OddsBps       uint64
	Deadline      uint64
	Nonce         *big.Int
	Expiry        uint64
}

func (m *TradeProposal) PrimaryType() string { return TypeProposal }
func (m *TradeProposal) ExpiresAt() uint64   { return m.Expiry }

func (m *TradeProposal) typedMessage() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"tradesRoot":    m.TradesRoot.Hex(),
		"creator":       m.Creator.Hex(),
		"creatorAmount": bigOrNil(m.CreatorAmount),
		"oddsBps":       u64(m.OddsBps),
		"deadline":      u64(m.Deadline),
		"nonce":         bigOrNil(m.Nonce),
		"expiry":        u64(m.Expiry),
	}
}

// TradeAcceptance commits a matching stake against a specific proposal.
type TradeAcceptance struct {
	ProposalHash common.Hash
	Filler       common.Address
	FillAmount   *big.Int
	Nonce        *big.Int
	Expiry       uint64
}

func (m *TradeAcceptance) PrimaryType() string { return TypeAcceptance }
func (m *TradeAcceptance) ExpiresAt() uint64   { return m.Expiry }

func (m *TradeAcceptance) typedMessage() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"proposalHash": m.ProposalHash.Hex(),
		"filler":       m.Filler.Hex(),
		"fillAmount":   bigOrNil(m.FillAmount),
		"nonce":        bigOrNil(m.Nonce),
		"expiry":       u64(m.Expiry),
	}
}

// BetCommitment is the record both parties sign before the escrow locks funds.
type BetCommitment struct {
	TradesRoot    common.Hash
	Creator       common.Address
	Filler        common.Address
	CreatorAmount *big.Int
	FillerAmount  *big.Int
	Deadline      uint64
	Nonce         *big.Int
	Expiry        uint64
}

func (m *BetCommitment) PrimaryType() string { return TypeCommitment }
func (m *BetCommitment) ExpiresAt() uint64   { return m.Expiry }

func (m *BetCommitment) typedMessage() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"tradesRoot":    m.TradesRoot.Hex(),
		"creator":       m.Creator.Hex(),
		"filler":        m.Filler.Hex(),
		"creatorAmount": bigOrNil(m.CreatorAmount),
		"fillerAmount":  bigOrNil(m.FillerAmount),
		"deadline":      u64(m.Deadline),
		"nonce":         bigOrNil(m.Nonce),
		"expiry":        u64(m.Expiry),
	}
}

// SettlementAgreement names the winner of a bet; the winner takes the whole pot.
type SettlementAgreement struct {
	BetID       uint64
	Winner      common.Address
	WinsCount   uint64
	ValidTrades uint64
	IsTie       bool
	Nonce       *big.Int
	Expiry      uint64
}

func (m *SettlementAgreement) PrimaryType() string { return TypeSettlementAgreement }
func (m *SettlementAgreement) ExpiresAt() uint64   { return m.Expiry }

func (m *SettlementAgreement) typedMessage() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"betId":       u64(m.BetID),
		"winner":      m.Winner.Hex(),
		"winsCount":   u64(m.WinsCount),
		"validTrades": u64(m.ValidTrades),
		"isTie":       m.IsTie,
		"nonce":       bigOrNil(m.Nonce),
		"expiry":      u64(m.Expiry),
	}
}

// CustomPayoutProposal splits the locked amount explicitly between the parties.
type CustomPayoutProposal struct {
	BetID         uint64
	CreatorPayout *big.Int
	FillerPayout  *big.Int
	Nonce         *big.Int
	Expiry        uint64
}

func (m *CustomPayoutProposal) PrimaryType() string { return TypeCustomPayout }
func (m *CustomPayoutProposal) ExpiresAt() uint64   { return m.Expiry }

func (m *CustomPayoutProposal) typedMessage() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"betId":         u64(m.BetID),
		"creatorPayout": bigOrNil(m.CreatorPayout),
		"fillerPayout":  bigOrNil(m.FillerPayout),
		"nonce":         bigOrNil(m.Nonce),
		"expiry":        u64(m.Expiry),
	}
}

// Sum returns creatorPayout + fillerPayout.
func (m *CustomPayoutProposal) Sum() *big.Int {
	sum := new(big.Int)
	if m.CreatorPayout != nil {
		sum.Add(sum, m.CreatorPayout)
	}
	if m.FillerPayout != nil {
		sum.Add(sum, m.FillerPayout)
	}
	return sum
}

func u64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// bigOrNil keeps nil as nil so hashing fails instead of signing a zero.
func bigOrNil(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
