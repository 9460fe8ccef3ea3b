package httpserver

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/negotiation"
	"github.com/mselser95/p2p-wager/internal/proposal"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"go.uber.org/zap"
)

const maxNegotiationBody = 64 << 10

// Negotiator drives proposals, acceptances and commitments for this bot.
type Negotiator interface {
	Propose(ctx context.Context, root common.Hash, stake *big.Int, oddsBps uint64, deadline time.Time, peer *common.Address) (*negotiation.Proposed, error)
	Accept(ctx context.Context, h common.Hash) (*negotiation.Accepted, error)
	Commit(ctx context.Context, c *signing.BetCommitment, fillerSig []byte) (settlement.Result, error)
	Offers() []proposal.Offer
	Pending() []negotiation.Pending
}

// NegotiationHandler exposes the negotiation steps to the operator.
type NegotiationHandler struct {
	negotiator Negotiator
	logger     *zap.Logger
}

// NewNegotiationHandler creates a new negotiation handler.
func NewNegotiationHandler(n Negotiator, logger *zap.Logger) *NegotiationHandler {
	return &NegotiationHandler{negotiator: n, logger: logger}
}

// ProposeRequest is the body of POST /api/proposals. Peer is optional; an
// empty peer broadcasts to every registered bot.
type ProposeRequest struct {
	TradesRoot string    `json:"trades_root"`
	Stake      string    `json:"stake"`
	OddsBps    uint64    `json:"odds_bps"`
	Deadline   time.Time `json:"deadline"`
	Peer       string    `json:"peer,omitempty"`
}

// ProposeResponse is the signed proposal and the peers that acknowledged it.
type ProposeResponse struct {
	ProposalHash string                 `json:"proposal_hash"`
	Proposal     signing.SignedProposal `json:"proposal"`
	Delivered    []string               `json:"delivered"`
}

// OfferResponse is one live offer from a peer.
type OfferResponse struct {
	ProposalHash  string               `json:"proposal_hash"`
	Proposal      signing.ProposalJSON `json:"proposal"`
	RequiredMatch string               `json:"required_match"`
	ReceivedAt    time.Time            `json:"received_at"`
}

// PendingResponse is one accepted proposal awaiting the filler's commitment.
type PendingResponse struct {
	ProposalHash string    `json:"proposal_hash"`
	Filler       string    `json:"filler"`
	FillAmount   string    `json:"fill_amount"`
	MatchedAt    time.Time `json:"matched_at"`
}

// OffersResponse is the body of GET /api/offers.
type OffersResponse struct {
	Offers  []OfferResponse   `json:"offers"`
	Pending []PendingResponse `json:"pending"`
}

// AcceptResponse carries the sent acceptance and the signed commitment to
// hand to the creator.
type AcceptResponse struct {
	Acceptance signing.SignedAcceptance `json:"acceptance"`
	Commitment signing.SignedCommitment `json:"commitment"`
}

// HandlePropose handles POST /api/proposals.
func (h *NegotiationHandler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !h.decode(w, r, &req) {
		return
	}

	root, err := signing.ParseHash(req.TradesRoot)
	if err != nil {
		h.writeError(w, "invalid trades_root", "", http.StatusBadRequest)
		return
	}
	stake, ok := new(big.Int).SetString(req.Stake, 10)
	if !ok {
		h.writeError(w, "invalid stake", "", http.StatusBadRequest)
		return
	}
	var peer *common.Address
	if req.Peer != "" {
		addr, parseErr := signing.ParseAddress(req.Peer)
		if parseErr != nil {
			h.writeError(w, "invalid peer", "", http.StatusBadRequest)
			return
		}
		peer = &addr
	}

	out, err := h.negotiator.Propose(r.Context(), root, stake, req.OddsBps, req.Deadline, peer)
	if err != nil {
		h.fail(w, "propose", err)
		return
	}

	resp := ProposeResponse{
		ProposalHash: out.Hash.Hex(),
		Proposal: signing.SignedProposal{
			Proposal:  out.Proposal.ToJSON(),
			Signature: signing.EncodeSignature(out.Signature),
		},
		Delivered: make([]string, 0, len(out.Delivered)),
	}
	for _, addr := range out.Delivered {
		resp.Delivered = append(resp.Delivered, addr.Hex())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleOffers handles GET /api/offers.
func (h *NegotiationHandler) HandleOffers(w http.ResponseWriter, r *http.Request) {
	offers := h.negotiator.Offers()
	pending := h.negotiator.Pending()

	resp := OffersResponse{
		Offers:  make([]OfferResponse, 0, len(offers)),
		Pending: make([]PendingResponse, 0, len(pending)),
	}
	for _, o := range offers {
		resp.Offers = append(resp.Offers, OfferResponse{
			ProposalHash:  o.Hash.Hex(),
			Proposal:      o.Proposal.ToJSON(),
			RequiredMatch: proposal.ComputeRequiredMatch(o.Proposal.CreatorAmount, o.Proposal.OddsBps).String(),
			ReceivedAt:    o.ReceivedAt.UTC(),
		})
	}
	for _, p := range pending {
		resp.Pending = append(resp.Pending, PendingResponse{
			ProposalHash: p.ProposalHash.Hex(),
			Filler:       p.Match.Acceptance.Filler.Hex(),
			FillAmount:   p.Match.Acceptance.FillAmount.String(),
			MatchedAt:    p.MatchedAt.UTC(),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleAccept handles POST /api/offers/{hash}/accept.
func (h *NegotiationHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	hash, err := signing.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, "invalid proposal hash", "", http.StatusBadRequest)
		return
	}

	out, err := h.negotiator.Accept(r.Context(), hash)
	if err != nil {
		h.fail(w, "accept", err)
		return
	}

	h.writeJSON(w, http.StatusOK, AcceptResponse{
		Acceptance: signing.SignedAcceptance{
			Acceptance: out.Acceptance.ToJSON(),
			Signature:  signing.EncodeSignature(out.AcceptanceSignature),
		},
		Commitment: signing.SignedCommitment{
			Commitment: out.Commitment.ToJSON(),
			Signer:     out.Commitment.Filler.Hex(),
			Signature:  signing.EncodeSignature(out.CommitmentSignature),
		},
	})
}

// HandleCommit handles POST /api/commitments. The body is the filler's
// signed commitment; the answer is the escrow submission result.
func (h *NegotiationHandler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	var req signing.SignedCommitment
	if !h.decode(w, r, &req) {
		return
	}
	if missing := req.Missing(); len(missing) > 0 {
		h.writeError(w, "missing fields: "+strings.Join(missing, ", "), types.ErrCodeMissingFields, http.StatusBadRequest)
		return
	}

	c, err := req.Commitment.Message()
	if err != nil {
		h.writeError(w, err.Error(), types.ErrCodeInvalidJSON, http.StatusBadRequest)
		return
	}
	signer, err := signing.ParseAddress(req.Signer)
	if err != nil || signer != c.Filler {
		h.writeError(w, "signer must be the commitment's filler", types.ErrCodeSignerMismatch, http.StatusBadRequest)
		return
	}
	sig, err := signing.DecodeSignature(req.Signature)
	if err != nil {
		h.writeError(w, "malformed signature", types.ErrCodeInvalidSignature, http.StatusBadRequest)
		return
	}

	res, err := h.negotiator.Commit(r.Context(), c, sig)
	if err != nil {
		h.fail(w, "commit", err)
		return
	}

	status := http.StatusOK
	switch {
	case res.Success:
	case res.Pending:
		status = http.StatusAccepted
	case res.Retryable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, res)
}

func (h *NegotiationHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNegotiationBody)).Decode(v)
	if err != nil {
		h.writeError(w, "invalid JSON body", types.ErrCodeInvalidJSON, http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps a negotiation error to a status code.
func (h *NegotiationHandler) fail(w http.ResponseWriter, step string, err error) {
	status := http.StatusInternalServerError
	code := ""
	switch {
	case errors.Is(err, negotiation.ErrUnknownPortfolio),
		errors.Is(err, negotiation.ErrUnknownOffer),
		errors.Is(err, negotiation.ErrUnknownPeer),
		errors.Is(err, negotiation.ErrNoMatch):
		status = http.StatusNotFound
	case errors.Is(err, negotiation.ErrNoPeers),
		errors.Is(err, negotiation.ErrInsufficientFunds):
		status = http.StatusConflict
	case errors.Is(err, negotiation.ErrNotDelivered):
		status = http.StatusBadGateway
	case errors.Is(err, negotiation.ErrNotCreator),
		errors.Is(err, proposal.ErrInvalidOdds),
		errors.Is(err, proposal.ErrInvalidStake),
		errors.Is(err, proposal.ErrDeadlineInPast),
		errors.Is(err, proposal.ErrProposalExpired),
		errors.Is(err, proposal.ErrSelfAcceptance):
		status = http.StatusBadRequest
	default:
		if pe, ok := types.AsProtocolError(err); ok {
			status, code = http.StatusBadRequest, pe.Code
		}
	}

	h.logger.Warn("negotiation-request-failed",
		zap.String("step", step),
		zap.Int("status", status),
		zap.Error(err))
	h.writeError(w, err.Error(), code, status)
}

func (h *NegotiationHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func (h *NegotiationHandler) writeError(w http.ResponseWriter, message string, code string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}
