// Package testutil holds in-memory collaborators for tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// ErrLedgerDown is returned by MockEscrow while failure injection is on.
var ErrLedgerDown = errors.New("mock escrow: connection refused")

// MockEscrow is an in-memory escrow with the contract's bet state machine,
// nonce bookkeeping, signature checks and bot registry.
type MockEscrow struct {
	domain signing.Domain

	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	bets    map[uint64]*types.BetRecord
	nonces  map[common.Address]*big.Int
	bots    []common.Address
	urls    map[common.Address]string
	failErr error
	calls   map[string]int
}

// NewMockEscrow creates an empty escrow bound to domain, with its clock at now.
func NewMockEscrow(domain signing.Domain, now time.Time) *MockEscrow {
	return &MockEscrow{
		domain: domain,
		now:    now,
		nextID: 1,
		bets:   make(map[uint64]*types.BetRecord),
		nonces: make(map[common.Address]*big.Int),
		urls:   make(map[common.Address]string),
		calls:  make(map[string]int),
	}
}

// Now returns the escrow clock.
func (m *MockEscrow) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the escrow clock forward.
func (m *MockEscrow) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// SetFailure makes every call return err until cleared with nil.
func (m *MockEscrow) SetFailure(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (m *MockEscrow) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// PutBet inserts a bet directly, bypassing commitment. It returns the id.
func (m *MockEscrow) PutBet(bet types.BetRecord) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bet.ID == 0 {
		bet.ID = m.nextID
	}
	if bet.ID >= m.nextID {
		m.nextID = bet.ID + 1
	}
	cp := bet
	m.bets[bet.ID] = &cp
	return bet.ID
}

// RegisterBot adds addr to the registry.
func (m *MockEscrow) RegisterBot(addr common.Address, endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.urls[addr]; !exists {
		m.bots = append(m.bots, addr)
	}
	m.urls[addr] = endpoint
}

// ResolveArbitration moves an InArbitration bet to ArbitrationSettled.
func (m *MockEscrow) ResolveArbitration(betID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bet, ok := m.bets[betID]
	if !ok || bet.Status != types.BetStatusInArbitration {
		return fmt.Errorf("bet %d not in arbitration", betID)
	}
	bet.Status = types.BetStatusArbitrationSettled
	return nil
}

func (m *MockEscrow) enter(method string) error {
	m.calls[method]++
	return m.failErr
}

// GetBet implements escrow.Ledger.
func (m *MockEscrow) GetBet(_ context.Context, betID uint64) (*types.BetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("GetBet"); err != nil {
		return nil, err
	}
	bet, ok := m.bets[betID]
	if !ok {
		return nil, types.NewBusinessError(betID, types.ErrBetNotFound, "bet not found")
	}
	cp := *bet
	return &cp, nil
}

// NonceOf implements escrow.Ledger.
func (m *MockEscrow) NonceOf(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("NonceOf"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.nonceLocked(account)), nil
}

// ActiveBots implements discovery.Registry.
func (m *MockEscrow) ActiveBots(context.Context) ([]common.Address, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("ActiveBots"); err != nil {
		return nil, nil, err
	}
	addrs := make([]common.Address, len(m.bots))
	urls := make([]string, len(m.bots))
	for i, a := range m.bots {
		addrs[i] = a
		urls[i] = m.urls[a]
	}
	return addrs, urls, nil
}

// CommitBilateralBet implements escrow.Ledger.
func (m *MockEscrow) CommitBilateralBet(_ context.Context, c *signing.BetCommitment, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CommitBilateralBet"); err != nil {
		return nil, err
	}
	if c.Expiry < uint64(m.now.Unix()) {
		return types.Rejected(types.ErrSignatureExpired, "commitment expired"), nil
	}
	if c.Nonce == nil || c.Nonce.Cmp(m.nonceLocked(c.Creator)) != 0 {
		return types.Rejected(types.ErrInvalidSignature, "stale nonce"), nil
	}
	if !signing.ValidateSignature(m.domain, c, creatorSig, c.Creator) ||
		!signing.ValidateSignature(m.domain, c, fillerSig, c.Filler) {
		return types.Rejected(types.ErrInvalidSignature, "invalid signature"), nil
	}

	id := m.nextID
	m.nextID++
	m.bets[id] = &types.BetRecord{
		ID:            id,
		TradesRoot:    c.TradesRoot,
		Creator:       c.Creator,
		Filler:        c.Filler,
		CreatorAmount: new(big.Int).Set(c.CreatorAmount),
		FillerAmount:  new(big.Int).Set(c.FillerAmount),
		Deadline:      time.Unix(int64(c.Deadline), 0),
		CreatedAt:     m.now,
		Status:        types.BetStatusActive,
	}
	m.bumpLocked(c.Creator)
	m.bumpLocked(c.Filler)

	return m.okLocked(id), nil
}

// SettleByAgreement implements escrow.Ledger.
func (m *MockEscrow) SettleByAgreement(_ context.Context, a *signing.SettlementAgreement, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("SettleByAgreement"); err != nil {
		return nil, err
	}
	bet, res := m.activeLocked(a.BetID, a.Expiry)
	if res != nil {
		return res, nil
	}
	if !bet.IsParty(a.Winner) {
		return types.Rejected(types.ErrInvalidWinner, "winner is not a party"), nil
	}
	if !m.signedByBothLocked(bet, a, creatorSig, fillerSig) {
		return types.Rejected(types.ErrInvalidSignature, "invalid signature"), nil
	}

	bet.Status = types.BetStatusSettled
	return m.okLocked(bet.ID), nil
}

// CustomPayout implements escrow.Ledger.
func (m *MockEscrow) CustomPayout(_ context.Context, p *signing.CustomPayoutProposal, creatorSig []byte, fillerSig []byte) (*types.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CustomPayout"); err != nil {
		return nil, err
	}
	bet, res := m.activeLocked(p.BetID, p.Expiry)
	if res != nil {
		return res, nil
	}
	if p.Sum().Cmp(bet.TotalLocked()) != 0 {
		return types.Rejected(types.ErrPayoutMismatch,
			fmt.Sprintf("payout sum %s != total locked %s", p.Sum(), bet.TotalLocked())), nil
	}
	if !m.signedByBothLocked(bet, p, creatorSig, fillerSig) {
		return types.Rejected(types.ErrInvalidSignature, "invalid signature"), nil
	}

	bet.Status = types.BetStatusCustomPayout
	return m.okLocked(bet.ID), nil
}

// RequestArbitration implements escrow.Ledger.
func (m *MockEscrow) RequestArbitration(_ context.Context, betID uint64) (*types.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("RequestArbitration"); err != nil {
		return nil, err
	}
	bet, ok := m.bets[betID]
	if !ok {
		return types.Rejected(types.ErrBetNotFound, "bet not found"), nil
	}
	if bet.Status != types.BetStatusActive {
		return types.Rejected(types.ErrBetNotActive, "bet is "+bet.Status.String()), nil
	}
	if m.now.Before(bet.Deadline) {
		return types.Rejected(types.ErrDeadlineNotPassed, "deadline not passed"), nil
	}

	bet.Status = types.BetStatusInArbitration
	return m.okLocked(betID), nil
}

func (m *MockEscrow) activeLocked(betID uint64, expiry uint64) (*types.BetRecord, *types.TxResult) {
	bet, ok := m.bets[betID]
	if !ok {
		return nil, types.Rejected(types.ErrBetNotFound, "bet not found")
	}
	if bet.Status != types.BetStatusActive {
		return nil, types.Rejected(types.ErrBetNotActive, "bet is "+bet.Status.String())
	}
	if expiry < uint64(m.now.Unix()) {
		return nil, types.Rejected(types.ErrSignatureExpired, "signature expired")
	}
	return bet, nil
}

func (m *MockEscrow) signedByBothLocked(bet *types.BetRecord, msg signing.Message, creatorSig []byte, fillerSig []byte) bool {
	return signing.ValidateSignature(m.domain, msg, creatorSig, bet.Creator) &&
		signing.ValidateSignature(m.domain, msg, fillerSig, bet.Filler)
}

func (m *MockEscrow) nonceLocked(account common.Address) *big.Int {
	n, ok := m.nonces[account]
	if !ok {
		n = new(big.Int)
		m.nonces[account] = n
	}
	return n
}

func (m *MockEscrow) bumpLocked(account common.Address) {
	n := m.nonceLocked(account)
	n.Add(n, big.NewInt(1))
}

func (m *MockEscrow) okLocked(betID uint64) *types.TxResult {
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d-%d", betID, len(m.calls)+int(m.now.UnixNano()))))
	return &types.TxResult{Success: true, TxHash: hash.Hex(), BetID: betID}
}
