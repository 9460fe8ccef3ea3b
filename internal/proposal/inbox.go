package proposal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"go.uber.org/zap"
)

// ErrUnknownProposal is returned for an acceptance of a proposal this bot never sent.
var ErrUnknownProposal = errors.New("acceptance for unknown proposal")

const defaultInboxSize = 256

// Offer is a verified proposal received from a peer.
type Offer struct {
	Hash       common.Hash
	Proposal   *signing.TradeProposal
	Signature  []byte
	ReceivedAt time.Time
}

// Match is a verified acceptance of one of this bot's proposals.
type Match struct {
	Proposal            *signing.TradeProposal
	Acceptance          *signing.TradeAcceptance
	AcceptanceSignature []byte
}

// Inbox collects inbound proposals and matches acceptances to the
// proposals this bot has sent. Sizing and accepting offers is left to the
// policy layer reading Offers and Matches.
type Inbox struct {
	domain signing.Domain
	self   common.Address
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	sent    map[common.Hash]*signing.TradeProposal
	offers  []Offer
	matches chan Match
}

// InboxConfig holds Inbox configuration.
type InboxConfig struct {
	Domain    signing.Domain
	Self      common.Address
	QueueSize int
	Now       func() time.Time
	Logger    *zap.Logger
}

// NewInbox creates an inbox.
func NewInbox(cfg *InboxConfig) (*Inbox, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultInboxSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Inbox{
		domain:  cfg.Domain,
		self:    cfg.Self,
		now:     now,
		logger:  cfg.Logger,
		sent:    make(map[common.Hash]*signing.TradeProposal),
		matches: make(chan Match, size),
	}, nil
}

// Track registers a proposal this bot has sent so its acceptance can be matched.
func (in *Inbox) Track(p *signing.TradeProposal) (common.Hash, error) {
	h, err := signing.Hash(in.domain, p)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash proposal: %w", err)
	}

	in.mu.Lock()
	in.sent[h] = p
	in.mu.Unlock()
	return h, nil
}

// HandleProposal stores a verified proposal from a peer. Expired offers are
// dropped when the inbox is read.
func (in *Inbox) HandleProposal(_ context.Context, p *signing.TradeProposal, sig []byte) error {
	if p.Creator == in.self {
		return ErrSelfAcceptance
	}
	h, err := signing.Hash(in.domain, p)
	if err != nil {
		return fmt.Errorf("hash proposal: %w", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.offers) >= cap(in.matches) {
		in.offers = in.offers[1:]
	}
	in.offers = append(in.offers, Offer{Hash: h, Proposal: p, Signature: sig, ReceivedAt: in.now()})

	in.logger.Info("proposal-received",
		zap.String("creator", p.Creator.Hex()),
		zap.String("trades-root", p.TradesRoot.Hex()),
		zap.String("stake", p.CreatorAmount.String()),
		zap.Uint64("odds-bps", p.OddsBps))
	return nil
}

// HandleAcceptance checks a verified acceptance against the proposal it names
// and publishes the match.
func (in *Inbox) HandleAcceptance(_ context.Context, a *signing.TradeAcceptance, sig []byte) error {
	in.mu.Lock()
	p, ok := in.sent[a.ProposalHash]
	in.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, a.ProposalHash.Hex())
	}

	if err := ValidateAcceptance(in.domain, p, a); err != nil {
		in.logger.Warn("acceptance-rejected",
			zap.String("proposal-hash", a.ProposalHash.Hex()),
			zap.String("filler", a.Filler.Hex()),
			zap.Error(err))
		return err
	}

	select {
	case in.matches <- Match{Proposal: p, Acceptance: a, AcceptanceSignature: sig}:
	default:
		return fmt.Errorf("match queue full")
	}

	// First valid acceptance wins the proposal.
	in.mu.Lock()
	delete(in.sent, a.ProposalHash)
	in.mu.Unlock()

	in.logger.Info("proposal-matched",
		zap.String("proposal-hash", a.ProposalHash.Hex()),
		zap.String("filler", a.Filler.Hex()),
		zap.String("fill-amount", a.FillAmount.String()))
	return nil
}

// Offers returns the unexpired proposals received so far, oldest first.
func (in *Inbox) Offers() []Offer {
	now := uint64(in.now().Unix())

	in.mu.Lock()
	defer in.mu.Unlock()

	live := in.offers[:0]
	for _, o := range in.offers {
		if o.Proposal.Expiry >= now {
			live = append(live, o)
		}
	}
	in.offers = live

	out := make([]Offer, len(live))
	copy(out, live)
	return out
}

// Offer returns the unexpired offer with proposal hash h.
func (in *Inbox) Offer(h common.Hash) (Offer, bool) {
	for _, o := range in.Offers() {
		if o.Hash == h {
			return o, true
		}
	}
	return Offer{}, false
}

// Matches returns the channel of accepted proposals.
func (in *Inbox) Matches() <-chan Match {
	return in.matches
}

// Outstanding returns the number of sent proposals still awaiting acceptance.
func (in *Inbox) Outstanding() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.sent)
}
