package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/internal/negotiation"
	"github.com/mselser95/p2p-wager/internal/proposal"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/pkg/healthprobe"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	root      = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	offerHash = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	matchedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fillerSig = bytes.Repeat([]byte{0x05}, signing.SignatureLength)
)

type proposeCall struct {
	root     common.Hash
	stake    *big.Int
	oddsBps  uint64
	deadline time.Time
	peer     *common.Address
}

type fakeNegotiator struct {
	mu        sync.Mutex
	err       error
	result    settlement.Result
	proposes  []proposeCall
	accepts   []common.Hash
	commits   []*signing.BetCommitment
	commitSig []byte
}

func sampleProposal() *signing.TradeProposal {
	return &signing.TradeProposal{
		TradesRoot:    root,
		Creator:       creator,
		CreatorAmount: big.NewInt(1000),
		OddsBps:       15000,
		Deadline:      uint64(matchedAt.Add(24 * time.Hour).Unix()),
		Nonce:         big.NewInt(3),
		Expiry:        uint64(matchedAt.Add(5 * time.Minute).Unix()),
	}
}

func sampleCommitment() *signing.BetCommitment {
	return &signing.BetCommitment{
		TradesRoot:    root,
		Creator:       creator,
		Filler:        filler,
		CreatorAmount: big.NewInt(1000),
		FillerAmount:  big.NewInt(1500),
		Deadline:      uint64(matchedAt.Add(24 * time.Hour).Unix()),
		Nonce:         big.NewInt(3),
		Expiry:        uint64(matchedAt.Add(5 * time.Minute).Unix()),
	}
}

func (f *fakeNegotiator) Propose(_ context.Context, root common.Hash, stake *big.Int, oddsBps uint64, deadline time.Time, peer *common.Address) (*negotiation.Proposed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposes = append(f.proposes, proposeCall{root: root, stake: stake, oddsBps: oddsBps, deadline: deadline, peer: peer})
	if f.err != nil {
		return nil, f.err
	}
	return &negotiation.Proposed{
		Hash:      offerHash,
		Proposal:  sampleProposal(),
		Signature: []byte{1, 2, 3},
		Delivered: []common.Address{filler},
	}, nil
}

func (f *fakeNegotiator) Accept(_ context.Context, h common.Hash) (*negotiation.Accepted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, h)
	if f.err != nil {
		return nil, f.err
	}
	return &negotiation.Accepted{
		Acceptance: &signing.TradeAcceptance{
			ProposalHash: h,
			Filler:       filler,
			FillAmount:   big.NewInt(1500),
			Nonce:        big.NewInt(0),
			Expiry:       uint64(matchedAt.Add(5 * time.Minute).Unix()),
		},
		AcceptanceSignature: []byte{4},
		Commitment:          sampleCommitment(),
		CommitmentSignature: []byte{5},
	}, nil
}

func (f *fakeNegotiator) Commit(_ context.Context, c *signing.BetCommitment, fillerSig []byte) (settlement.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	f.commitSig = fillerSig
	if f.err != nil {
		return settlement.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeNegotiator) Offers() []proposal.Offer {
	return []proposal.Offer{{Hash: offerHash, Proposal: sampleProposal(), ReceivedAt: matchedAt}}
}

func (f *fakeNegotiator) Pending() []negotiation.Pending {
	return []negotiation.Pending{{
		ProposalHash: offerHash,
		Match: proposal.Match{
			Proposal:   sampleProposal(),
			Acceptance: &signing.TradeAcceptance{ProposalHash: offerHash, Filler: filler, FillAmount: big.NewInt(1500)},
		},
		MatchedAt: matchedAt,
	}}
}

func negotiationServer(n *fakeNegotiator) *Server {
	return New(&Config{Port: "0", Logger: zap.NewNop(), HealthChecker: healthprobe.New(), Negotiator: n})
}

func post(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestProposeEndpoint(t *testing.T) {
	t.Parallel()

	n := &fakeNegotiator{}
	deadline := matchedAt.Add(24 * time.Hour)
	w := post(t, negotiationServer(n), "/api/proposals", ProposeRequest{
		TradesRoot: root.Hex(),
		Stake:      "1000",
		OddsBps:    15000,
		Deadline:   deadline,
		Peer:       filler.Hex(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ProposeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, offerHash.Hex(), resp.ProposalHash)
	assert.Equal(t, []string{filler.Hex()}, resp.Delivered)
	assert.Equal(t, "0x010203", resp.Proposal.Signature)
	assert.Equal(t, "15000", resp.Proposal.Proposal.OddsBps)

	require.Len(t, n.proposes, 1)
	call := n.proposes[0]
	assert.Equal(t, root, call.root)
	assert.Equal(t, "1000", call.stake.String())
	assert.True(t, deadline.Equal(call.deadline))
	require.NotNil(t, call.peer)
	assert.Equal(t, filler, *call.peer)
}

func TestProposeEndpoint_BroadcastWithoutPeer(t *testing.T) {
	t.Parallel()

	n := &fakeNegotiator{}
	w := post(t, negotiationServer(n), "/api/proposals", ProposeRequest{
		TradesRoot: root.Hex(),
		Stake:      "1000",
		OddsBps:    10000,
		Deadline:   matchedAt,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, n.proposes, 1)
	assert.Nil(t, n.proposes[0].peer)
}

func TestProposeEndpoint_Errors(t *testing.T) {
	t.Parallel()

	valid := ProposeRequest{TradesRoot: root.Hex(), Stake: "1000", OddsBps: 10000, Deadline: matchedAt}

	tests := []struct {
		name     string
		body     interface{}
		err      error
		wantCode int
	}{
		{name: "not json", body: "{", wantCode: http.StatusBadRequest},
		{name: "bad root", body: ProposeRequest{TradesRoot: "0x12", Stake: "1"}, wantCode: http.StatusBadRequest},
		{name: "bad stake", body: ProposeRequest{TradesRoot: root.Hex(), Stake: "ten"}, wantCode: http.StatusBadRequest},
		{name: "bad peer", body: ProposeRequest{TradesRoot: root.Hex(), Stake: "1", Peer: "0xnope"}, wantCode: http.StatusBadRequest},
		{name: "unknown portfolio", body: valid, err: negotiation.ErrUnknownPortfolio, wantCode: http.StatusNotFound},
		{name: "no peers", body: valid, err: negotiation.ErrNoPeers, wantCode: http.StatusConflict},
		{name: "insufficient funds", body: valid, err: fmt.Errorf("%w: stake 1000", negotiation.ErrInsufficientFunds), wantCode: http.StatusConflict},
		{name: "not delivered", body: valid, err: negotiation.ErrNotDelivered, wantCode: http.StatusBadGateway},
		{name: "invalid odds", body: valid, err: proposal.ErrInvalidOdds, wantCode: http.StatusBadRequest},
		{name: "nonce lookup failed", body: valid, err: fmt.Errorf("fetch nonce: dial tcp"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := post(t, negotiationServer(&fakeNegotiator{err: tt.err}), "/api/proposals", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestOffersEndpoint(t *testing.T) {
	t.Parallel()

	w := do(t, negotiationServer(&fakeNegotiator{}), "/api/offers")
	require.Equal(t, http.StatusOK, w.Code)

	var resp OffersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Offers, 1)
	assert.Equal(t, offerHash.Hex(), resp.Offers[0].ProposalHash)
	assert.Equal(t, "1500", resp.Offers[0].RequiredMatch)
	require.Len(t, resp.Pending, 1)
	assert.Equal(t, filler.Hex(), resp.Pending[0].Filler)
	assert.Equal(t, "1500", resp.Pending[0].FillAmount)
}

func TestAcceptEndpoint(t *testing.T) {
	t.Parallel()

	n := &fakeNegotiator{}
	w := post(t, negotiationServer(n), "/api/offers/"+offerHash.Hex()+"/accept", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AcceptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, offerHash.Hex(), resp.Acceptance.Acceptance.ProposalHash)
	assert.Equal(t, filler.Hex(), resp.Commitment.Signer)
	assert.Equal(t, "1500", resp.Commitment.Commitment.FillerAmount)
	assert.Equal(t, "0x05", resp.Commitment.Signature)
	assert.Empty(t, resp.Commitment.Missing())
	assert.Equal(t, []common.Hash{offerHash}, n.accepts)
}

func TestAcceptEndpoint_Errors(t *testing.T) {
	t.Parallel()

	w := post(t, negotiationServer(&fakeNegotiator{}), "/api/offers/0x1234/accept", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, negotiationServer(&fakeNegotiator{err: negotiation.ErrUnknownOffer}), "/api/offers/"+offerHash.Hex()+"/accept", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func signedCommitment() signing.SignedCommitment {
	return signing.SignedCommitment{
		Commitment: sampleCommitment().ToJSON(),
		Signer:     filler.Hex(),
		Signature:  signing.EncodeSignature(fillerSig),
	}
}

func TestCommitEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   settlement.Result
		wantCode int
	}{
		{name: "submitted", result: settlement.Result{Action: settlement.ActionCommit, Success: true, BetID: 4}, wantCode: http.StatusOK},
		{name: "pending", result: settlement.Result{Action: settlement.ActionCommit, Pending: true, Code: settlement.CodeTxPending}, wantCode: http.StatusAccepted},
		{name: "ledger down", result: settlement.Result{Action: settlement.ActionCommit, Retryable: true}, wantCode: http.StatusServiceUnavailable},
		{name: "rejected", result: settlement.Result{Action: settlement.ActionCommit, Code: types.ErrInvalidSignature}, wantCode: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := &fakeNegotiator{result: tt.result}
			w := post(t, negotiationServer(n), "/api/commitments", signedCommitment())
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			var resp settlement.Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.result, resp)

			require.Len(t, n.commits, 1)
			assert.Equal(t, filler, n.commits[0].Filler)
			assert.Equal(t, "1500", n.commits[0].FillerAmount.String())
			assert.Equal(t, fillerSig, n.commitSig)
		})
	}
}

func TestCommitEndpoint_Errors(t *testing.T) {
	t.Parallel()

	wrongSigner := signedCommitment()
	wrongSigner.Signer = creator.Hex()

	noSignature := signedCommitment()
	noSignature.Signature = ""

	badAmount := signedCommitment()
	badAmount.Commitment.FillerAmount = "-1"

	shortSignature := signedCommitment()
	shortSignature.Signature = "0x0506"

	tests := []struct {
		name     string
		body     interface{}
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "missing fields", body: noSignature, wantCode: http.StatusBadRequest, wantErr: types.ErrCodeMissingFields},
		{name: "bad amount", body: badAmount, wantCode: http.StatusBadRequest, wantErr: types.ErrCodeInvalidJSON},
		{name: "signer is not the filler", body: wrongSigner, wantCode: http.StatusBadRequest, wantErr: types.ErrCodeSignerMismatch},
		{name: "short signature", body: shortSignature, wantCode: http.StatusBadRequest, wantErr: types.ErrCodeInvalidSignature},
		{name: "no match", body: signedCommitment(), err: negotiation.ErrNoMatch, wantCode: http.StatusNotFound},
		{
			name:     "bad filler signature",
			body:     signedCommitment(),
			err:      &types.ProtocolError{Code: types.ErrCodeSignerMismatch, Message: "signature does not match claimed signer"},
			wantCode: http.StatusBadRequest,
			wantErr:  types.ErrCodeSignerMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := post(t, negotiationServer(&fakeNegotiator{err: tt.err}), "/api/commitments", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Code)
		})
	}
}
