package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetStatus mirrors the escrow's bet state machine.
type BetStatus uint8

const (
	BetStatusNone BetStatus = iota
	BetStatusActive
	BetStatusSettled
	BetStatusCustomPayout
	BetStatusInArbitration
	BetStatusArbitrationSettled
)

func (s BetStatus) String() string {
	switch s {
	case BetStatusNone:
		return "None"
	case BetStatusActive:
		return "Active"
	case BetStatusSettled:
		return "Settled"
	case BetStatusCustomPayout:
		return "CustomPayout"
	case BetStatusInArbitration:
		return "InArbitration"
	case BetStatusArbitrationSettled:
		return "ArbitrationSettled"
	default:
		return "Unknown"
	}
}

// BetRecord is the escrow's view of a committed bet.
type BetRecord struct {
	ID            uint64
	TradesRoot    common.Hash
	Creator       common.Address
	Filler        common.Address
	CreatorAmount *big.Int
	FillerAmount  *big.Int
	Deadline      time.Time
	CreatedAt     time.Time
	Status        BetStatus
}

// TotalLocked returns creatorAmount + fillerAmount.
func (b *BetRecord) TotalLocked() *big.Int {
	total := new(big.Int)
	if b.CreatorAmount != nil {
		total.Add(total, b.CreatorAmount)
	}
	if b.FillerAmount != nil {
		total.Add(total, b.FillerAmount)
	}
	return total
}

// IsParty reports whether addr is the creator or the filler.
func (b *BetRecord) IsParty(addr common.Address) bool {
	return addr == b.Creator || addr == b.Filler
}

// Outcome is the deterministic result of a portfolio evaluation.
type Outcome struct {
	Winner      common.Address `json:"winner"`
	WinsCount   int            `json:"winsCount"`
	ValidTrades int            `json:"validTrades"`
	IsTie       bool           `json:"isTie"`
}

// ClaimedOutcome is an outcome as reported by a peer, with the winner
// kept as the raw address string the peer sent.
type ClaimedOutcome struct {
	Winner      string `json:"winner"`
	WinsCount   int    `json:"winsCount"`
	ValidTrades int    `json:"validTrades"`
	IsTie       bool   `json:"isTie"`
}

// Matches reports whether the claim equals o exactly, comparing the winner
// address case-insensitively.
func (c ClaimedOutcome) Matches(o Outcome) bool {
	return strings.EqualFold(strings.TrimSpace(c.Winner), o.Winner.Hex()) &&
		c.WinsCount == o.WinsCount &&
		c.ValidTrades == o.ValidTrades &&
		c.IsTie == o.IsTie
}

// TxResult is the uniform result of an escrow write.
type TxResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	BetID   uint64 `json:"betId,omitempty"` // set by commitBilateralBet
}

// Rejected builds a failed result carrying a business error code.
func Rejected(code string, message string) *TxResult {
	return &TxResult{Success: false, Code: code, Error: message}
}
