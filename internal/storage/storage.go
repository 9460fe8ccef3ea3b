// Package storage persists settlement submission outcomes.
package storage

import (
	"context"
	"time"
)

// Record is one settlement submission and what the escrow said about it.
type Record struct {
	ID            string
	BetID         uint64
	Action        string // commit, agree, custom-payout, arbitrate
	Success       bool
	TxHash        string
	Code          string
	Error         string
	Winner        string // agree only
	CreatorPayout string // custom-payout only, decimal
	FillerPayout  string // custom-payout only, decimal
	RecordedAt    time.Time
}

// Storage is the interface for storing settlement records.
type Storage interface {
	// StoreSettlement stores one submission outcome.
	StoreSettlement(ctx context.Context, rec *Record) error

	// Close closes the storage connection.
	Close() error
}
