package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage writing to stdout.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		out:    os.Stdout,
		logger: logger,
	}
}

// StoreSettlement pretty-prints a settlement record.
func (c *ConsoleStorage) StoreSettlement(ctx context.Context, rec *Record) error {
	status := "✅ ACCEPTED"
	if !rec.Success {
		status = "❌ REJECTED"
	}

	fmt.Fprintln(c.out, "\n"+rule)
	fmt.Fprintf(c.out, "⚖️  SETTLEMENT %s\n", status)
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "Bet:      %d\n", rec.BetID)
	fmt.Fprintf(c.out, "Action:   %s\n", rec.Action)
	fmt.Fprintf(c.out, "Time:     %s\n", rec.RecordedAt.Format("2006-01-02 15:04:05"))
	if rec.TxHash != "" {
		fmt.Fprintf(c.out, "Tx:       %s\n", rec.TxHash)
	}
	if rec.Winner != "" {
		fmt.Fprintf(c.out, "Winner:   %s\n", rec.Winner)
	}
	if rec.CreatorPayout != "" || rec.FillerPayout != "" {
		fmt.Fprintf(c.out, "Payout:   creator %s / filler %s\n", rec.CreatorPayout, rec.FillerPayout)
	}
	if !rec.Success {
		fmt.Fprintf(c.out, "Code:     %s\n", rec.Code)
		fmt.Fprintf(c.out, "Error:    %s\n", rec.Error)
	}
	fmt.Fprintln(c.out, rule)

	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
