package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/p2p-wager/internal/app"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var settleCmd = &cobra.Command{
	Use:   "settle <bet-id>",
	Short: "Propose a settlement agreement for a bet",
	Long: `Computes the bet's outcome from the committed portfolio in PORTFOLIO_DIR and
current exit prices, signs a settlement agreement and sends it to the
counterparty, which countersigns and submits it on-chain.

The counterparty's answer (agreement, counter offer or dispute) is handled
by its running agent; run this bot with "run" to take part in counter rounds.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettle,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(settleCmd)
}

func runSettle(cmd *cobra.Command, args []string) error {
	betID, err := parseBetID(args[0])
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	agreement, err := application.Settle(ctx, betID)
	if err != nil {
		return fmt.Errorf("settle bet %d: %w", betID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Agreement delivered for bet %d\n", agreement.BetID)
	fmt.Fprintf(out, "Winner:       %s\n", agreement.Winner.Hex())
	fmt.Fprintf(out, "Creator wins: %d / %d (tie=%t)\n", agreement.WinsCount, agreement.ValidTrades, agreement.IsTie)
	fmt.Fprintf(out, "Expires:      %s\n", time.Unix(int64(agreement.Expiry), 0).UTC().Format(time.RFC3339))
	return nil
}
