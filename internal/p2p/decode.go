package p2p

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// inbound is a structurally valid message awaiting expiry, signature and rate checks.
type inbound struct {
	msg        signing.Message
	claimed    common.Address
	sigHex     string
	sig        []byte // set once the signature verified
	betID      uint64
	needsParty bool // post-commitment: the signer must be a party of betID
	dispatch   func(ctx context.Context, h Handler, sig []byte) error
}

type decoder func(body []byte) (*inbound, *types.ProtocolError)

func invalidJSON(err error) *types.ProtocolError {
	return &types.ProtocolError{Code: types.ErrCodeInvalidJSON, Message: err.Error()}
}

func missingFields(fields []string) *types.ProtocolError {
	return &types.ProtocolError{
		Code:    types.ErrCodeMissingFields,
		Message: "missing fields: " + strings.Join(fields, ", "),
	}
}

func invalidField(err error) *types.ProtocolError {
	return &types.ProtocolError{Code: types.ErrCodeMissingFields, Message: err.Error()}
}

func decodeProposal(body []byte) (*inbound, *types.ProtocolError) {
	var env signing.SignedProposal
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalidJSON(err)
	}
	if m := env.Missing(); len(m) > 0 {
		return nil, missingFields(m)
	}
	msg, err := env.Proposal.Message()
	if err != nil {
		return nil, invalidField(err)
	}

	return &inbound{
		msg:     msg,
		claimed: msg.Creator,
		sigHex:  env.Signature,
		dispatch: func(ctx context.Context, h Handler, sig []byte) error {
			return h.HandleProposal(ctx, msg, sig)
		},
	}, nil
}

func decodeAcceptance(body []byte) (*inbound, *types.ProtocolError) {
	var env signing.SignedAcceptance
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalidJSON(err)
	}
	if m := env.Missing(); len(m) > 0 {
		return nil, missingFields(m)
	}
	msg, err := env.Acceptance.Message()
	if err != nil {
		return nil, invalidField(err)
	}

	return &inbound{
		msg:     msg,
		claimed: msg.Filler,
		sigHex:  env.Signature,
		dispatch: func(ctx context.Context, h Handler, sig []byte) error {
			return h.HandleAcceptance(ctx, msg, sig)
		},
	}, nil
}

func decodeSettlement(body []byte) (*inbound, *types.ProtocolError) {
	var env signing.SignedAgreement
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalidJSON(err)
	}
	if m := env.Missing(); len(m) > 0 {
		return nil, missingFields(m)
	}
	msg, err := env.Agreement.Message()
	if err != nil {
		return nil, invalidField(err)
	}
	signer, err := signing.ParseAddress(env.Signer)
	if err != nil {
		return nil, invalidField(fmt.Errorf("signer: %w", err))
	}

	return &inbound{
		msg:        msg,
		claimed:    signer,
		sigHex:     env.Signature,
		betID:      msg.BetID,
		needsParty: true,
		dispatch: func(ctx context.Context, h Handler, sig []byte) error {
			return h.HandleSettlement(ctx, msg, signer, sig)
		},
	}, nil
}

func decodePayout(body []byte) (*inbound, *types.ProtocolError) {
	var env signing.SignedPayout
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalidJSON(err)
	}
	if m := env.Missing(); len(m) > 0 {
		return nil, missingFields(m)
	}
	msg, err := env.Payout.Message()
	if err != nil {
		return nil, invalidField(err)
	}
	signer, err := signing.ParseAddress(env.Signer)
	if err != nil {
		return nil, invalidField(fmt.Errorf("signer: %w", err))
	}

	return &inbound{
		msg:        msg,
		claimed:    signer,
		sigHex:     env.Signature,
		betID:      msg.BetID,
		needsParty: true,
		dispatch: func(ctx context.Context, h Handler, sig []byte) error {
			return h.HandleCustomPayout(ctx, msg, signer, sig)
		},
	}, nil
}
