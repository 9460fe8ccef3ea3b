package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/p2p-wager/internal/app"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var arbitrateCmd = &cobra.Command{
	Use:   "arbitrate <bet-id>",
	Short: "Request arbitration for a bet",
	Long: `Submits requestArbitration for a bet this bot is party to. The escrow only
accepts it for an active bet whose deadline has passed.`,
	Args: cobra.ExactArgs(1),
	RunE: runArbitrate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(arbitrateCmd)
}

func runArbitrate(cmd *cobra.Command, args []string) error {
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

	err = cfg.RequireIdentity()
	if err != nil {
		return err
	}
	signer, err := signing.NewSigner(cfg.BotPrivateKey)
	if err != nil {
		return fmt.Errorf("load bot key: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TxReceiptWait+time.Minute)
	defer cancel()

	ledger, _, rpcs, err := app.NewLedger(ctx, cfg, signer, logger)
	if err != nil {
		return fmt.Errorf("setup ledger: %w", err)
	}
	defer func() {
		for _, rpc := range rpcs {
			rpc.Close()
		}
	}()

	bet, err := ledger.GetBet(ctx, betID)
	if err != nil {
		return fmt.Errorf("get bet %d: %w", betID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bet:      %d\n", bet.ID)
	fmt.Fprintf(out, "Status:   %s\n", bet.Status)
	fmt.Fprintf(out, "Deadline: %s\n", bet.Deadline.UTC().Format(time.RFC3339))
	if !bet.IsParty(signer.Address()) {
		return fmt.Errorf("%s is not a party to bet %d", signer.Address().Hex(), betID)
	}

	res, err := ledger.RequestArbitration(ctx, betID)
	if err != nil {
		return fmt.Errorf("request arbitration: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("arbitration rejected: %s (%s)", res.Error, res.Code)
	}

	fmt.Fprintf(out, "\n✅ Arbitration requested\nTx:       %s\n", res.TxHash)
	return nil
}
