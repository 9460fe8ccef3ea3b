package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTxPending means a transaction was broadcast but its receipt was not
// seen in time. The call may still land, so it must not be sent again.
var ErrTxPending = errors.New("transaction pending")

// PendingError carries the hash of a broadcast transaction without a receipt.
type PendingError struct {
	Method string
	TxHash common.Hash
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s tx %s pending: %v", e.Method, e.TxHash.Hex(), e.Err)
}

// Unwrap exposes both ErrTxPending and the receipt wait failure.
func (e *PendingError) Unwrap() []error {
	return []error{ErrTxPending, e.Err}
}

// AsPending unwraps err into a PendingError if it is one.
func AsPending(err error) (*PendingError, bool) {
	var pe *PendingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
