package types

import (
	"errors"
	"fmt"
)

// ProtocolError is a terminal message-validity failure on the P2P wire.
// It is never retried and always maps to a stable machine-readable code.
type ProtocolError struct {
	Code    string // Stable wire code (INVALID_JSON, EXPIRED, ...)
	Message string // Human-readable detail
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
}

// Known P2P protocol error codes.
const (
	ErrCodeInvalidJSON      = "INVALID_JSON"
	ErrCodeMissingFields    = "MISSING_FIELDS"
	ErrCodeExpired          = "EXPIRED"
	ErrCodeSignerMismatch   = "SIGNER_MISMATCH"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// BusinessError is a rejection of a settlement call by the escrow's state machine.
// The dependency itself worked; the caller decides whether to escalate or give up.
type BusinessError struct {
	Code    string
	Message string
	BetID   uint64
}

func (e *BusinessError) Error() string {
	if e.BetID != 0 {
		return fmt.Sprintf("bet %d rejected: %s (%s)", e.BetID, e.Message, e.Code)
	}

	return fmt.Sprintf("rejected: %s (%s)", e.Message, e.Code)
}

// Known escrow business error codes.
const (
	ErrBetNotFound       = "BET_NOT_FOUND"
	ErrBetNotActive      = "BET_NOT_ACTIVE"
	ErrSignatureExpired  = "SIGNATURE_EXPIRED"
	ErrInvalidSignature  = "INVALID_SIGNATURE"
	ErrInvalidWinner     = "INVALID_WINNER"
	ErrPayoutMismatch    = "PAYOUT_MISMATCH"
	ErrDeadlineNotPassed = "DEADLINE_NOT_PASSED"
	ErrOutcomeMismatch   = "OUTCOME_MISMATCH"
	ErrUnknownRevert     = "UNKNOWN_REVERT"
)

// NewBusinessError builds a BusinessError for a bet.
func NewBusinessError(betID uint64, code string, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message, BetID: betID}
}

// AsBusinessError unwraps err into a BusinessError if it is one.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// AsProtocolError unwraps err into a ProtocolError if it is one.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
