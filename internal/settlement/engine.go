// Package settlement turns computed outcomes into signed escrow calls.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mselser95/p2p-wager/internal/backend"
	"github.com/mselser95/p2p-wager/internal/escrow"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/internal/pricefeed"
	"github.com/mselser95/p2p-wager/internal/storage"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrUnknownPortfolio = errors.New("no portfolio for trades root")
	ErrNotParty         = errors.New("local signer is not a party to the bet")
	ErrNoTransport      = errors.New("no peer transport configured")
	ErrPeerUnknown      = errors.New("counterparty not in registry")
)

// EventRecorder mirrors state changes to the backend.
type EventRecorder interface {
	Record(ctx context.Context, ev backend.Event)
}

// PeerDirectory resolves a counterparty's endpoint.
type PeerDirectory interface {
	FindPeer(ctx context.Context, addr common.Address) (types.Peer, bool)
}

// PeerSender delivers post-resolution messages to a peer.
type PeerSender interface {
	SendSettlement(ctx context.Context, endpoint string, msg *signing.SignedAgreement) (*types.Ack, error)
	SendCustomPayout(ctx context.Context, endpoint string, msg *signing.SignedPayout) (*types.Ack, error)
}

// Engine settles bets for one local party.
type Engine struct {
	domain        signing.Domain
	signer        *signing.Signer
	ledger        escrow.Ledger
	prices        pricefeed.Source
	book          *Book
	store         storage.Storage
	events        EventRecorder
	peers         PeerDirectory
	sender        PeerSender
	counter       CounterPolicy
	counterRounds int
	expiryWindow  time.Duration
	now           func() time.Time
	logger        *zap.Logger

	mu       sync.Mutex
	rounds   map[uint64]int
	disputes map[uint64]time.Time
}

// Config holds Engine dependencies.
type Config struct {
	Domain        signing.Domain
	Signer        *signing.Signer
	Ledger        escrow.Ledger
	Prices        pricefeed.Source
	Book          *Book
	Store         storage.Storage
	Events        EventRecorder // optional
	Peers         PeerDirectory // optional, required to initiate
	Sender        PeerSender    // optional, required to initiate
	Counter       CounterPolicy // defaults to ProportionalSplit
	CounterRounds int           // counter offers per bet; 0 never counters
	ExpiryWindow  time.Duration
	Now           func() time.Time
	Logger        *zap.Logger
}

// New creates a settlement engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source cannot be nil")
	}
	if cfg.Book == nil {
		return nil, fmt.Errorf("book cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("expiry window must be positive")
	}
	if cfg.CounterRounds < 0 {
		return nil, fmt.Errorf("counter rounds cannot be negative")
	}

	counter := cfg.Counter
	if counter == nil {
		counter = ProportionalSplit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		domain:        cfg.Domain,
		signer:        cfg.Signer,
		ledger:        cfg.Ledger,
		prices:        cfg.Prices,
		book:          cfg.Book,
		store:         cfg.Store,
		events:        cfg.Events,
		peers:         cfg.Peers,
		sender:        cfg.Sender,
		counter:       counter,
		counterRounds: cfg.CounterRounds,
		expiryWindow:  cfg.ExpiryWindow,
		now:           now,
		logger:        cfg.Logger,
		rounds:        make(map[uint64]int),
		disputes:      make(map[uint64]time.Time),
	}, nil
}

// Address returns the local party.
func (e *Engine) Address() common.Address {
	return e.signer.Address()
}

// Sign signs msg under the engine's domain.
func (e *Engine) Sign(msg signing.Message) ([]byte, error) {
	sig, err := e.signer.Sign(e.domain, msg)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", msg.PrimaryType(), err)
	}
	return sig, nil
}

// Outcome evaluates betID's committed portfolio over the current exit prices.
func (e *Engine) Outcome(ctx context.Context, betID uint64) (*types.BetRecord, types.Outcome, error) {
	bet, err := e.ledger.GetBet(ctx, betID)
	if err != nil {
		return nil, types.Outcome{}, fmt.Errorf("get bet %d: %w", betID, err)
	}

	tree, ok := e.book.Tree(bet.TradesRoot)
	if !ok {
		return bet, types.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownPortfolio, bet.TradesRoot.Hex())
	}

	prices, err := e.prices.FetchPrices(ctx, types.PriceModeExit)
	if err != nil {
		return bet, types.Outcome{}, fmt.Errorf("fetch exit prices: %w", err)
	}

	return bet, merkle.ComputeOutcome(tree, prices, bet.Creator, bet.Filler), nil
}

// Agreement builds a settlement agreement naming outcome's winner. The nonce
// is the creator's so both parties sign the same message.
func (e *Engine) Agreement(ctx context.Context, bet *types.BetRecord, outcome types.Outcome) (*signing.SettlementAgreement, error) {
	nonce, err := e.ledger.NonceOf(ctx, bet.Creator)
	if err != nil {
		return nil, fmt.Errorf("fetch creator nonce: %w", err)
	}

	return &signing.SettlementAgreement{
		BetID:       bet.ID,
		Winner:      outcome.Winner,
		WinsCount:   uint64(outcome.WinsCount),
		ValidTrades: uint64(outcome.ValidTrades),
		IsTie:       outcome.IsTie,
		Nonce:       nonce,
		Expiry:      e.expiry(),
	}, nil
}

// ProposeCustomPayout builds and signs a payout split. A split that does not
// sum to the locked total is refused with PAYOUT_MISMATCH before signing.
func (e *Engine) ProposeCustomPayout(ctx context.Context, bet *types.BetRecord, creatorPayout *big.Int, fillerPayout *big.Int) (*signing.CustomPayoutProposal, []byte, error) {
	if creatorPayout == nil || fillerPayout == nil || creatorPayout.Sign() < 0 || fillerPayout.Sign() < 0 {
		return nil, nil, fmt.Errorf("payouts must be non-negative")
	}

	sum := new(big.Int).Add(creatorPayout, fillerPayout)
	if total := bet.TotalLocked(); sum.Cmp(total) != 0 {
		return nil, nil, types.NewBusinessError(bet.ID, types.ErrPayoutMismatch,
			fmt.Sprintf("payout sum %s != total locked %s", sum, total))
	}

	nonce, err := e.ledger.NonceOf(ctx, bet.Creator)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch creator nonce: %w", err)
	}

	p := &signing.CustomPayoutProposal{
		BetID:         bet.ID,
		CreatorPayout: new(big.Int).Set(creatorPayout),
		FillerPayout:  new(big.Int).Set(fillerPayout),
		Nonce:         nonce,
		Expiry:        e.expiry(),
	}
	sig, err := e.Sign(p)
	if err != nil {
		return nil, nil, err
	}
	return p, sig, nil
}

// Commit submits commitBilateralBet.
func (e *Engine) Commit(ctx context.Context, c *signing.BetCommitment, creatorSig []byte, fillerSig []byte) Result {
	return e.submit(ctx, ActionCommit, 0, storage.Record{}, func(ctx context.Context) (*types.TxResult, error) {
		return e.ledger.CommitBilateralBet(ctx, c, creatorSig, fillerSig)
	})
}

// Agree submits settleByAgreement.
func (e *Engine) Agree(ctx context.Context, a *signing.SettlementAgreement, creatorSig []byte, fillerSig []byte) Result {
	rec := storage.Record{Winner: a.Winner.Hex()}
	return e.submit(ctx, ActionAgree, a.BetID, rec, func(ctx context.Context) (*types.TxResult, error) {
		return e.ledger.SettleByAgreement(ctx, a, creatorSig, fillerSig)
	})
}

// SubmitCustomPayout submits customPayout.
func (e *Engine) SubmitCustomPayout(ctx context.Context, p *signing.CustomPayoutProposal, creatorSig []byte, fillerSig []byte) Result {
	rec := storage.Record{CreatorPayout: decimal(p.CreatorPayout), FillerPayout: decimal(p.FillerPayout)}
	return e.submit(ctx, ActionCounter, p.BetID, rec, func(ctx context.Context) (*types.TxResult, error) {
		return e.ledger.CustomPayout(ctx, p, creatorSig, fillerSig)
	})
}

// RequestArbitration submits requestArbitration. The escrow refuses it
// before the bet's deadline.
func (e *Engine) RequestArbitration(ctx context.Context, betID uint64) Result {
	res := e.submit(ctx, ActionArbitrate, betID, storage.Record{}, func(ctx context.Context) (*types.TxResult, error) {
		return e.ledger.RequestArbitration(ctx, betID)
	})
	if res.Success {
		e.resolveDispute(betID)
	}
	return res
}

func (e *Engine) submit(ctx context.Context, action Action, betID uint64, rec storage.Record, call func(context.Context) (*types.TxResult, error)) Result {
	start := time.Now()
	tx, err := call(ctx)
	SubmissionDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())

	res := resultFrom(action, betID, tx, err)

	code := res.Code
	if res.Success {
		code = "ok"
	}
	SubmissionsTotal.WithLabelValues(string(action), code).Inc()

	fields := []zap.Field{
		zap.String("action", string(action)),
		zap.Uint64("bet-id", res.BetID),
	}
	switch {
	case res.Success:
		e.logger.Info("settlement-submitted", append(fields, zap.String("tx-hash", res.TxHash))...)
	case res.Pending:
		e.logger.Warn("settlement-pending", append(fields, zap.String("tx-hash", res.TxHash))...)
	case res.Retryable:
		e.logger.Warn("settlement-ledger-unavailable", append(fields, zap.String("error", res.Error))...)
	default:
		e.logger.Warn("settlement-rejected", append(fields,
			zap.String("code", res.Code),
			zap.String("error", res.Error))...)
	}

	rec.ID = uuid.NewString()
	rec.BetID = res.BetID
	rec.Action = string(action)
	rec.Success = res.Success
	rec.TxHash = res.TxHash
	rec.Code = res.Code
	rec.Error = res.Error
	rec.RecordedAt = e.now()
	if err := e.store.StoreSettlement(ctx, &rec); err != nil {
		e.logger.Error("settlement-store-failed",
			zap.Uint64("bet-id", res.BetID),
			zap.Error(err))
	}

	if res.Success {
		e.emit(ctx, eventFor(action), res.BetID, map[string]string{"txHash": res.TxHash})
	}

	return res
}

func (e *Engine) emit(ctx context.Context, eventType string, betID uint64, data map[string]string) {
	if e.events == nil {
		return
	}
	e.events.Record(ctx, backend.NewEvent(eventType, e.Address().Hex(), betID, data, e.now()))
}

func eventFor(action Action) string {
	switch action {
	case ActionCommit:
		return backend.EventBetCommitted
	case ActionAgree:
		return backend.EventSettlement
	case ActionCounter:
		return backend.EventCustomPayout
	default:
		return backend.EventArbitration
	}
}

func (e *Engine) expiry() uint64 {
	return uint64(e.now().Add(e.expiryWindow).Unix())
}

// ordered places the local and peer signatures in creator, filler order.
func (e *Engine) ordered(bet *types.BetRecord, own []byte, peer []byte) (creatorSig []byte, fillerSig []byte) {
	if e.Address() == bet.Creator {
		return own, peer
	}
	return peer, own
}

func (e *Engine) counterparty(bet *types.BetRecord) (common.Address, error) {
	switch e.Address() {
	case bet.Creator:
		return bet.Filler, nil
	case bet.Filler:
		return bet.Creator, nil
	default:
		return common.Address{}, fmt.Errorf("%w: bet %d", ErrNotParty, bet.ID)
	}
}

// Disputes returns the bets waiting for arbitration, in id order.
func (e *Engine) Disputes() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]uint64, 0, len(e.disputes))
	for id := range e.disputes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) dispute(bet *types.BetRecord) {
	e.mu.Lock()
	e.disputes[bet.ID] = bet.Deadline
	OpenDisputes.Set(float64(len(e.disputes)))
	e.mu.Unlock()

	e.logger.Info("bet-disputed",
		zap.Uint64("bet-id", bet.ID),
		zap.Time("deadline", bet.Deadline))
}

func (e *Engine) resolveDispute(betID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.disputes, betID)
	OpenDisputes.Set(float64(len(e.disputes)))
}

func decimal(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
