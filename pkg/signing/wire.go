package signing

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Wire forms carry every integer as a decimal string so no JSON
// implementation loses precision on amounts.

// ProposalJSON is the wire form of TradeProposal.
type ProposalJSON struct {
	TradesRoot    string `json:"tradesRoot"`
	Creator       string `json:"creator"`
	CreatorAmount string `json:"creatorAmount"`
	OddsBps       string `json:"oddsBps"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
	Expiry        string `json:"expiry"`
}

// AcceptanceJSON is the wire form of TradeAcceptance.
type AcceptanceJSON struct {
	ProposalHash string `json:"proposalHash"`
	Filler       string `json:"filler"`
	FillAmount   string `json:"fillAmount"`
	Nonce        string `json:"nonce"`
	Expiry       string `json:"expiry"`
}

// CommitmentJSON is the wire form of BetCommitment.
type CommitmentJSON struct {
	TradesRoot    string `json:"tradesRoot"`
	Creator       string `json:"creator"`
	Filler        string `json:"filler"`
	CreatorAmount string `json:"creatorAmount"`
	FillerAmount  string `json:"fillerAmount"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
	Expiry        string `json:"expiry"`
}

// AgreementJSON is the wire form of SettlementAgreement.
type AgreementJSON struct {
	BetID       string `json:"betId"`
	Winner      string `json:"winner"`
	WinsCount   string `json:"winsCount"`
	ValidTrades string `json:"validTrades"`
	IsTie       *bool  `json:"isTie"`
	Nonce       string `json:"nonce"`
	Expiry      string `json:"expiry"`
}

// PayoutJSON is the wire form of CustomPayoutProposal.
type PayoutJSON struct {
	BetID         string `json:"betId"`
	CreatorPayout string `json:"creatorPayout"`
	FillerPayout  string `json:"fillerPayout"`
	Nonce         string `json:"nonce"`
	Expiry        string `json:"expiry"`
}

// SignedProposal is the body of a propose request.
type SignedProposal struct {
	Proposal  ProposalJSON `json:"proposal"`
	Signature string       `json:"signature"`
}

// SignedAcceptance is the body of an accept request.
type SignedAcceptance struct {
	Acceptance AcceptanceJSON `json:"acceptance"`
	Signature  string         `json:"signature"`
}

// SignedCommitment carries one party's commitment signature to the
// submitting creator.
type SignedCommitment struct {
	Commitment CommitmentJSON `json:"commitment"`
	Signer     string         `json:"signer"`
	Signature  string         `json:"signature"`
}

// SignedAgreement is the body of a settle request. Signer names the party
// that produced Signature.
type SignedAgreement struct {
	Agreement AgreementJSON `json:"agreement"`
	Signer    string        `json:"signer"`
	Signature string        `json:"signature"`
}

// SignedPayout is the body of a custom payout request.
type SignedPayout struct {
	Payout    PayoutJSON `json:"payout"`
	Signer    string     `json:"signer"`
	Signature string     `json:"signature"`
}

// Missing returns the names of empty required fields.
func (w *SignedProposal) Missing() []string {
	p := &w.Proposal
	return missing(
		"proposal.tradesRoot", p.TradesRoot,
		"proposal.creator", p.Creator,
		"proposal.creatorAmount", p.CreatorAmount,
		"proposal.oddsBps", p.OddsBps,
		"proposal.deadline", p.Deadline,
		"proposal.nonce", p.Nonce,
		"proposal.expiry", p.Expiry,
		"signature", w.Signature,
	)
}

// Missing returns the names of empty required fields.
func (w *SignedAcceptance) Missing() []string {
	a := &w.Acceptance
	return missing(
		"acceptance.proposalHash", a.ProposalHash,
		"acceptance.filler", a.Filler,
		"acceptance.fillAmount", a.FillAmount,
		"acceptance.nonce", a.Nonce,
		"acceptance.expiry", a.Expiry,
		"signature", w.Signature,
	)
}

// Missing returns the names of empty required fields.
func (w *SignedCommitment) Missing() []string {
	c := &w.Commitment
	return missing(
		"commitment.tradesRoot", c.TradesRoot,
		"commitment.creator", c.Creator,
		"commitment.filler", c.Filler,
		"commitment.creatorAmount", c.CreatorAmount,
		"commitment.fillerAmount", c.FillerAmount,
		"commitment.deadline", c.Deadline,
		"commitment.nonce", c.Nonce,
		"commitment.expiry", c.Expiry,
		"signer", w.Signer,
		"signature", w.Signature,
	)
}

// Missing returns the names of empty required fields.
func (w *SignedAgreement) Missing() []string {
	a := &w.Agreement
	out := missing(
		"agreement.betId", a.BetID,
		"agreement.winner", a.Winner,
		"agreement.winsCount", a.WinsCount,
		"agreement.validTrades", a.ValidTrades,
		"agreement.nonce", a.Nonce,
		"agreement.expiry", a.Expiry,
		"signer", w.Signer,
		"signature", w.Signature,
	)
	if a.IsTie == nil {
		out = append(out, "agreement.isTie")
	}
	return out
}

// Missing returns the names of empty required fields.
func (w *SignedPayout) Missing() []string {
	p := &w.Payout
	return missing(
		"payout.betId", p.BetID,
		"payout.creatorPayout", p.CreatorPayout,
		"payout.fillerPayout", p.FillerPayout,
		"payout.nonce", p.Nonce,
		"payout.expiry", p.Expiry,
		"signer", w.Signer,
		"signature", w.Signature,
	)
}

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

// ToJSON renders a proposal in wire form.
func (m *TradeProposal) ToJSON() ProposalJSON {
	return ProposalJSON{
		TradesRoot:    m.TradesRoot.Hex(),
		Creator:       m.Creator.Hex(),
		CreatorAmount: bigString(m.CreatorAmount),
		OddsBps:       strconv.FormatUint(m.OddsBps, 10),
		Deadline:      strconv.FormatUint(m.Deadline, 10),
		Nonce:         bigString(m.Nonce),
		Expiry:        strconv.FormatUint(m.Expiry, 10),
	}
}

// ToJSON renders an acceptance in wire form.
func (m *TradeAcceptance) ToJSON() AcceptanceJSON {
	return AcceptanceJSON{
		ProposalHash: m.ProposalHash.Hex(),
		Filler:       m.Filler.Hex(),
		FillAmount:   bigString(m.FillAmount),
		Nonce:        bigString(m.Nonce),
		Expiry:       strconv.FormatUint(m.Expiry, 10),
	}
}

// ToJSON renders a commitment in wire form.
func (m *BetCommitment) ToJSON() CommitmentJSON {
	return CommitmentJSON{
		TradesRoot:    m.TradesRoot.Hex(),
		Creator:       m.Creator.Hex(),
		Filler:        m.Filler.Hex(),
		CreatorAmount: bigString(m.CreatorAmount),
		FillerAmount:  bigString(m.FillerAmount),
		Deadline:      strconv.FormatUint(m.Deadline, 10),
		Nonce:         bigString(m.Nonce),
		Expiry:        strconv.FormatUint(m.Expiry, 10),
	}
}

// ToJSON renders an agreement in wire form.
func (m *SettlementAgreement) ToJSON() AgreementJSON {
	isTie := m.IsTie
	return AgreementJSON{
		BetID:       strconv.FormatUint(m.BetID, 10),
		Winner:      m.Winner.Hex(),
		WinsCount:   strconv.FormatUint(m.WinsCount, 10),
		ValidTrades: strconv.FormatUint(m.ValidTrades, 10),
		IsTie:       &isTie,
		Nonce:       bigString(m.Nonce),
		Expiry:      strconv.FormatUint(m.Expiry, 10),
	}
}

// ToJSON renders a payout proposal in wire form.
func (m *CustomPayoutProposal) ToJSON() PayoutJSON {
	return PayoutJSON{
		BetID:         strconv.FormatUint(m.BetID, 10),
		CreatorPayout: bigString(m.CreatorPayout),
		FillerPayout:  bigString(m.FillerPayout),
		Nonce:         bigString(m.Nonce),
		Expiry:        strconv.FormatUint(m.Expiry, 10),
	}
}

// Message parses the wire form.
func (w ProposalJSON) Message() (*TradeProposal, error) {
	var f fieldParser
	m := &TradeProposal{
		TradesRoot:    f.hash("tradesRoot", w.TradesRoot),
		Creator:       f.address("creator", w.Creator),
		CreatorAmount: f.big("creatorAmount", w.CreatorAmount),
		OddsBps:       f.uint("oddsBps", w.OddsBps),
		Deadline:      f.uint("deadline", w.Deadline),
		Nonce:         f.big("nonce", w.Nonce),
		Expiry:        f.uint("expiry", w.Expiry),
	}
	return m, f.err
}

// Message parses the wire form.
func (w AcceptanceJSON) Message() (*TradeAcceptance, error) {
	var f fieldParser
	m := &TradeAcceptance{
		ProposalHash: f.hash("proposalHash", w.ProposalHash),
		Filler:       f.address("filler", w.Filler),
		FillAmount:   f.big("fillAmount", w.FillAmount),
		Nonce:        f.big("nonce", w.Nonce),
		Expiry:       f.uint("expiry", w.Expiry),
	}
	return m, f.err
}

// Message parses the wire form.
func (w CommitmentJSON) Message() (*BetCommitment, error) {
	var f fieldParser
	m := &BetCommitment{
		TradesRoot:    f.hash("tradesRoot", w.TradesRoot),
		Creator:       f.address("creator", w.Creator),
		Filler:        f.address("filler", w.Filler),
		CreatorAmount: f.big("creatorAmount", w.CreatorAmount),
		FillerAmount:  f.big("fillerAmount", w.FillerAmount),
		Deadline:      f.uint("deadline", w.Deadline),
		Nonce:         f.big("nonce", w.Nonce),
		Expiry:        f.uint("expiry", w.Expiry),
	}
	return m, f.err
}

// Message parses the wire form.
func (w AgreementJSON) Message() (*SettlementAgreement, error) {
	var f fieldParser
	m := &SettlementAgreement{
		BetID:       f.uint("betId", w.BetID),
		Winner:      f.address("winner", w.Winner),
		WinsCount:   f.uint("winsCount", w.WinsCount),
		ValidTrades: f.uint("validTrades", w.ValidTrades),
		Nonce:       f.big("nonce", w.Nonce),
		Expiry:      f.uint("expiry", w.Expiry),
	}
	if w.IsTie == nil {
		f.fail("isTie", "missing")
	} else {
		m.IsTie = *w.IsTie
	}
	return m, f.err
}

// Message parses the wire form.
func (w PayoutJSON) Message() (*CustomPayoutProposal, error) {
	var f fieldParser
	m := &CustomPayoutProposal{
		BetID:         f.uint("betId", w.BetID),
		CreatorPayout: f.big("creatorPayout", w.CreatorPayout),
		FillerPayout:  f.big("fillerPayout", w.FillerPayout),
		Nonce:         f.big("nonce", w.Nonce),
		Expiry:        f.uint("expiry", w.Expiry),
	}
	return m, f.err
}

// ParseAddress accepts only well-formed 20-byte hex addresses.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash accepts only 0x-prefixed 32-byte hex.
func ParseHash(s string) (common.Hash, error) {
	var f fieldParser
	h := f.hash("hash", s)
	return h, f.err
}

// fieldParser records the first conversion failure.
type fieldParser struct {
	err error
}

func (f *fieldParser) fail(field string, reason string) {
	if f.err == nil {
		f.err = fmt.Errorf("field %s: %s", field, reason)
	}
}

func (f *fieldParser) hash(field string, s string) common.Hash {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		f.fail(field, "expected 0x-prefixed 32-byte hex")
		return common.Hash{}
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			f.fail(field, "expected 0x-prefixed 32-byte hex")
			return common.Hash{}
		}
	}
	return common.HexToHash(s)
}

func (f *fieldParser) address(field string, s string) common.Address {
	addr, err := ParseAddress(s)
	if err != nil {
		f.fail(field, err.Error())
	}
	return addr
}

func (f *fieldParser) big(field string, s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		f.fail(field, "expected non-negative decimal integer")
		return nil
	}
	return v
}

func (f *fieldParser) uint(field string, s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		f.fail(field, "expected unsigned decimal integer")
		return 0
	}
	return v
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
