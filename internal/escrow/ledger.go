// Package escrow talks to the on-chain escrow contract that locks stakes,
// stores bet records and hosts the bot registry.
package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// Ledger is the escrow as seen by the settlement engine.
//
// A non-nil error means the ledger could not be reached. A business rejection
// by the contract is reported as a TxResult with Success=false and a Code from
// pkg/types; it is not an error.
type Ledger interface {
	GetBet(ctx context.Context, betID uint64) (*types.BetRecord, error)
	NonceOf(ctx context.Context, account common.Address) (*big.Int, error)

	CommitBilateralBet(ctx context.Context, c *signing.BetCommitment, creatorSig []byte, fillerSig []byte) (*types.TxResult, error)
	SettleByAgreement(ctx context.Context, a *signing.SettlementAgreement, creatorSig []byte, fillerSig []byte) (*types.TxResult, error)
	CustomPayout(ctx context.Context, p *signing.CustomPayoutProposal, creatorSig []byte, fillerSig []byte) (*types.TxResult, error)
	RequestArbitration(ctx context.Context, betID uint64) (*types.TxResult, error)
}
