// Package negotiation drives a bet from proposal to on-chain commitment.
//
// The creator proposes to one peer or broadcasts to all of them. A filler
// accepts an offer it holds: the acceptance goes to the creator's listener
// and the filler's signed commitment is handed to the creator out of band.
// The creator countersigns that commitment against the acceptance it
// received and submits it.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/merkle"
	"github.com/mselser95/p2p-wager/internal/proposal"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrUnknownPortfolio  = errors.New("no committed portfolio with that root")
	ErrUnknownOffer      = errors.New("no live offer with that hash")
	ErrUnknownPeer       = errors.New("peer not in registry")
	ErrNoPeers           = errors.New("no peers to propose to")
	ErrNotDelivered      = errors.New("proposal not delivered to any peer")
	ErrInsufficientFunds = errors.New("insufficient collateral")
	ErrNotCreator        = errors.New("commitment names another creator")
	ErrNoMatch           = errors.New("no accepted proposal matches the commitment")
)

// Trees looks up committed portfolios by root.
type Trees interface {
	Tree(root common.Hash) (*merkle.Tree, bool)
}

// PeerDirectory lists and resolves registered peers.
type PeerDirectory interface {
	Peers(ctx context.Context) []types.Peer
	FindPeer(ctx context.Context, addr common.Address) (types.Peer, bool)
}

// PeerSender delivers pre-commitment messages.
type PeerSender interface {
	SendProposal(ctx context.Context, endpoint string, msg *signing.SignedProposal) (*types.Ack, error)
	SendAcceptance(ctx context.Context, endpoint string, msg *signing.SignedAcceptance) (*types.Ack, error)
}

// Committer submits a doubly signed commitment.
type Committer interface {
	Commit(ctx context.Context, c *signing.BetCommitment, creatorSig []byte, fillerSig []byte) settlement.Result
}

// Funds reports whether the local wallet covers a stake.
type Funds interface {
	CanStake(amount *big.Int) bool
}

// Proposed is the outcome of Propose.
type Proposed struct {
	Hash      common.Hash
	Proposal  *signing.TradeProposal
	Signature []byte
	Delivered []common.Address
}

// Accepted is the outcome of Accept. Commitment and CommitmentSignature go
// to the creator, who submits them.
type Accepted struct {
	Acceptance          *signing.TradeAcceptance
	AcceptanceSignature []byte
	Commitment          *signing.BetCommitment
	CommitmentSignature []byte
}

// Pending is an accepted proposal waiting for the filler's commitment.
type Pending struct {
	ProposalHash common.Hash
	Match        proposal.Match
	MatchedAt    time.Time
}

// Negotiator runs both sides of the pre-commitment exchange for one party.
type Negotiator struct {
	domain    signing.Domain
	signer    *signing.Signer
	builder   *proposal.Builder
	inbox     *proposal.Inbox
	trees     Trees
	peers     PeerDirectory
	sender    PeerSender
	committer Committer
	funds     Funds
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[common.Hash]Pending
}

// Config holds Negotiator dependencies.
type Config struct {
	Domain    signing.Domain
	Signer    *signing.Signer
	Builder   *proposal.Builder
	Inbox     *proposal.Inbox
	Trees     Trees
	Peers     PeerDirectory
	Sender    PeerSender
	Committer Committer
	Funds     Funds // optional
	Now       func() time.Time
	Logger    *zap.Logger
}

// New creates a negotiator.
func New(cfg *Config) (*Negotiator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder cannot be nil")
	}
	if cfg.Inbox == nil {
		return nil, fmt.Errorf("inbox cannot be nil")
	}
	if cfg.Trees == nil {
		return nil, fmt.Errorf("trees cannot be nil")
	}
	if cfg.Peers == nil {
		return nil, fmt.Errorf("peer directory cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if cfg.Committer == nil {
		return nil, fmt.Errorf("committer cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Negotiator{
		domain:    cfg.Domain,
		signer:    cfg.Signer,
		builder:   cfg.Builder,
		inbox:     cfg.Inbox,
		trees:     cfg.Trees,
		peers:     cfg.Peers,
		sender:    cfg.Sender,
		committer: cfg.Committer,
		funds:     cfg.Funds,
		now:       now,
		logger:    cfg.Logger,
		pending:   make(map[common.Hash]Pending),
	}, nil
}

// Propose signs a proposal over the portfolio with the given root and sends
// it to peer, or to every registered peer when peer is nil. The proposal is
// tracked before the first send so an early acceptance still matches.
func (n *Negotiator) Propose(
	ctx context.Context,
	root common.Hash,
	stake *big.Int,
	oddsBps uint64,
	deadline time.Time,
	peer *common.Address,
) (*Proposed, error) {
	tree, ok := n.trees.Tree(root)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPortfolio, root.Hex())
	}
	if n.funds != nil && stake != nil && !n.funds.CanStake(stake) {
		return nil, fmt.Errorf("%w: stake %s", ErrInsufficientFunds, stake)
	}

	targets, err := n.targets(ctx, peer)
	if err != nil {
		return nil, err
	}

	p, err := n.builder.Proposal(ctx, tree, stake, oddsBps, deadline)
	if err != nil {
		return nil, err
	}
	sig, err := n.signer.Sign(n.domain, p)
	if err != nil {
		return nil, fmt.Errorf("sign proposal: %w", err)
	}
	hash, err := n.inbox.Track(p)
	if err != nil {
		return nil, err
	}

	msg := &signing.SignedProposal{Proposal: p.ToJSON(), Signature: signing.EncodeSignature(sig)}
	out := &Proposed{Hash: hash, Proposal: p, Signature: sig}
	for _, target := range targets {
		_, sendErr := n.sender.SendProposal(ctx, target.Endpoint, msg)
		if sendErr != nil {
			MessagesTotal.WithLabelValues(kindProposal, outcomeFailed).Inc()
			n.logger.Warn("proposal-send-failed",
				zap.String("peer", target.Address.Hex()),
				zap.String("endpoint", target.Endpoint),
				zap.Error(sendErr))
			continue
		}
		MessagesTotal.WithLabelValues(kindProposal, outcomeSent).Inc()
		out.Delivered = append(out.Delivered, target.Address)
	}

	if len(out.Delivered) == 0 {
		return out, fmt.Errorf("%w: %d tried", ErrNotDelivered, len(targets))
	}

	n.logger.Info("proposal-sent",
		zap.String("proposal-hash", hash.Hex()),
		zap.String("trades-root", root.Hex()),
		zap.String("stake", stake.String()),
		zap.Uint64("odds-bps", oddsBps),
		zap.Int("delivered", len(out.Delivered)),
		zap.Int("targets", len(targets)))
	return out, nil
}

func (n *Negotiator) targets(ctx context.Context, peer *common.Address) ([]types.Peer, error) {
	if peer != nil {
		p, ok := n.peers.FindPeer(ctx, *peer)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer.Hex())
		}
		return []types.Peer{p}, nil
	}

	all := n.peers.Peers(ctx)
	if len(all) == 0 {
		return nil, ErrNoPeers
	}
	return all, nil
}

// Accept fills the live offer with proposal hash h at the required match.
// The acceptance is sent to the creator; the signed commitment is returned
// for the creator to submit.
func (n *Negotiator) Accept(ctx context.Context, h common.Hash) (*Accepted, error) {
	offer, ok := n.inbox.Offer(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOffer, h.Hex())
	}
	p := offer.Proposal

	required := proposal.ComputeRequiredMatch(p.CreatorAmount, p.OddsBps)
	if n.funds != nil && !n.funds.CanStake(required) {
		return nil, fmt.Errorf("%w: match %s", ErrInsufficientFunds, required)
	}

	creator, ok := n.peers.FindPeer(ctx, p.Creator)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, p.Creator.Hex())
	}

	a, err := n.builder.Acceptance(ctx, n.domain, p)
	if err != nil {
		return nil, err
	}
	err = proposal.ValidateAcceptance(n.domain, p, a)
	if err != nil {
		return nil, err
	}
	c, err := n.builder.Commitment(ctx, p, a)
	if err != nil {
		return nil, err
	}

	out := &Accepted{Acceptance: a, Commitment: c}
	out.AcceptanceSignature, err = n.signer.Sign(n.domain, a)
	if err != nil {
		return nil, fmt.Errorf("sign acceptance: %w", err)
	}
	out.CommitmentSignature, err = n.signer.Sign(n.domain, c)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}

	_, err = n.sender.SendAcceptance(ctx, creator.Endpoint, &signing.SignedAcceptance{
		Acceptance: a.ToJSON(),
		Signature:  signing.EncodeSignature(out.AcceptanceSignature),
	})
	if err != nil {
		MessagesTotal.WithLabelValues(kindAcceptance, outcomeFailed).Inc()
		return nil, fmt.Errorf("send acceptance: %w", err)
	}
	MessagesTotal.WithLabelValues(kindAcceptance, outcomeSent).Inc()

	n.logger.Info("offer-accepted",
		zap.String("proposal-hash", h.Hex()),
		zap.String("creator", p.Creator.Hex()),
		zap.String("fill-amount", a.FillAmount.String()))
	return out, nil
}

// Commit countersigns the filler's commitment and submits it. The commitment
// must carry exactly the terms of an acceptance this bot has matched.
func (n *Negotiator) Commit(ctx context.Context, c *signing.BetCommitment, fillerSig []byte) (settlement.Result, error) {
	if c == nil {
		return settlement.Result{}, fmt.Errorf("commitment cannot be nil")
	}
	if c.Creator != n.signer.Address() {
		return settlement.Result{}, fmt.Errorf("%w: %s", ErrNotCreator, c.Creator.Hex())
	}

	key, ok := n.find(c)
	if !ok {
		return settlement.Result{}, ErrNoMatch
	}

	verdict := signing.Verify(n.domain, c, fillerSig, c.Filler, n.now().Unix())
	if !verdict.Valid {
		MessagesTotal.WithLabelValues(kindCommitment, outcomeFailed).Inc()
		return settlement.Result{}, verdict.Err()
	}

	creatorSig, err := n.signer.Sign(n.domain, c)
	if err != nil {
		return settlement.Result{}, fmt.Errorf("sign commitment: %w", err)
	}

	res := n.committer.Commit(ctx, c, creatorSig, fillerSig)
	if res.Success || res.Pending {
		n.mu.Lock()
		delete(n.pending, key)
		PendingMatches.Set(float64(len(n.pending)))
		n.mu.Unlock()
	}
	if res.Success {
		MessagesTotal.WithLabelValues(kindCommitment, outcomeSent).Inc()
	} else {
		MessagesTotal.WithLabelValues(kindCommitment, outcomeFailed).Inc()
	}

	n.logger.Info("commitment-submitted",
		zap.String("proposal-hash", key.Hex()),
		zap.String("filler", c.Filler.Hex()),
		zap.Bool("success", res.Success),
		zap.Uint64("bet-id", res.BetID),
		zap.String("code", res.Code))
	return res, nil
}

func (n *Negotiator) find(c *signing.BetCommitment) (common.Hash, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for key, p := range n.pending {
		if proposal.ValidateCommitment(p.Match.Proposal, p.Match.Acceptance, c) == nil {
			return key, true
		}
	}
	return common.Hash{}, false
}

// Offers returns the live offers received from peers.
func (n *Negotiator) Offers() []proposal.Offer {
	return n.inbox.Offers()
}

// Pending returns the matches awaiting a commitment, oldest first. Matches
// whose bet deadline has passed are dropped.
func (n *Negotiator) Pending() []Pending {
	now := uint64(n.now().Unix())

	n.mu.Lock()
	out := make([]Pending, 0, len(n.pending))
	for key, p := range n.pending {
		if p.Match.Proposal.Deadline <= now {
			delete(n.pending, key)
			continue
		}
		out = append(out, p)
	}
	PendingMatches.Set(float64(len(n.pending)))
	n.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MatchedAt.Before(out[j].MatchedAt) })
	return out
}

// Run collects matched proposals until ctx is done.
func (n *Negotiator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-n.inbox.Matches():
			n.hold(m)
		}
	}
}

func (n *Negotiator) hold(m proposal.Match) {
	key := m.Acceptance.ProposalHash

	n.mu.Lock()
	n.pending[key] = Pending{ProposalHash: key, Match: m, MatchedAt: n.now()}
	size := len(n.pending)
	n.mu.Unlock()

	PendingMatches.Set(float64(size))
	n.logger.Info("match-awaiting-commitment",
		zap.String("proposal-hash", key.Hex()),
		zap.String("filler", m.Acceptance.Filler.Hex()),
		zap.String("trades-root", m.Proposal.TradesRoot.Hex()),
		zap.String("fill-amount", m.Acceptance.FillAmount.String()))
}
