package settlement

import (
	"errors"

	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/internal/escrow"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// CodeTxPending marks a submission that was broadcast without a receipt.
const CodeTxPending = "TX_PENDING"

// Result is the typed outcome of one escrow submission. A business rejection
// is a Result with a Code, never a Go error.
type Result struct {
	Action    Action `json:"action"`
	BetID     uint64 `json:"betId,omitempty"`
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable"`
	Pending   bool   `json:"pending,omitempty"`
}

// Rejected reports whether the escrow refused the call.
func (r Result) Rejected() bool {
	return !r.Success && !r.Retryable && !r.Pending
}

// Err returns nil on success, a *types.BusinessError on rejection and a
// plain error for an unreachable ledger.
func (r Result) Err() error {
	switch {
	case r.Success:
		return nil
	case r.Retryable, r.Pending:
		return errors.New(r.Error)
	default:
		return types.NewBusinessError(r.BetID, r.Code, r.Error)
	}
}

func resultFrom(action Action, betID uint64, tx *types.TxResult, err error) Result {
	if err != nil {
		if be, ok := types.AsBusinessError(err); ok {
			return Result{Action: action, BetID: betID, Code: be.Code, Error: be.Message}
		}
		if pe, ok := escrow.AsPending(err); ok {
			return Result{
				Action:  action,
				BetID:   betID,
				TxHash:  pe.TxHash.Hex(),
				Code:    CodeTxPending,
				Error:   err.Error(),
				Pending: true,
			}
		}
		code := types.ErrCodeUnavailable
		if errors.Is(err, circuitbreaker.ErrOpen) {
			code = "CIRCUIT_OPEN"
		}
		return Result{Action: action, BetID: betID, Code: code, Error: err.Error(), Retryable: true}
	}

	if tx == nil {
		return Result{Action: action, BetID: betID, Code: types.ErrUnknownRevert, Error: "empty ledger response"}
	}
	if tx.BetID != 0 {
		betID = tx.BetID
	}
	return Result{
		Action:  action,
		BetID:   betID,
		Success: tx.Success,
		TxHash:  tx.TxHash,
		Code:    tx.Code,
		Error:   tx.Error,
	}
}
