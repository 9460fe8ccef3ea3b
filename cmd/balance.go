package cmd

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/wallet"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Check the bot wallet's balances",
	Long: `Display the bot wallet's holdings:
- Native balance (for gas)
- Collateral balance (for stakes)
- Collateral allowance approved to the escrow

Use --address to inspect another wallet.`,
	RunE: runBalance,
}

//nolint:gochecknoglobals // Cobra boilerplate
var balanceAddress string

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().StringVarP(&balanceAddress, "address", "a", "", "Wallet address (defaults to the bot key's address)")
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.CollateralToken == "" {
		return fmt.Errorf("COLLATERAL_TOKEN_ADDRESS is required")
	}

	owner, err := balanceOwner(balanceAddress, cfg.BotPrivateKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rpc, err := ethclient.DialContext(ctx, cfg.PrimaryRPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer rpc.Close()

	client, err := wallet.NewClient(rpc,
		common.HexToAddress(cfg.CollateralToken),
		common.HexToAddress(cfg.EscrowAddress),
		logger)
	if err != nil {
		return fmt.Errorf("create wallet client: %w", err)
	}

	b, err := client.GetBalances(ctx, owner)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Wallet Balance Sheet ===\n\n")
	fmt.Fprintf(out, "Address:    %s\n", owner.Hex())
	fmt.Fprintf(out, "Escrow:     %s\n\n", cfg.EscrowAddress)
	fmt.Fprintf(out, "Native:     %s\n", formatUnits(b.Native, 18))
	fmt.Fprintf(out, "Collateral: %s\n", formatUnits(b.Collateral, cfg.CollateralDecimals))
	fmt.Fprintf(out, "Allowance:  %s\n", formatUnits(b.EscrowAllowance, cfg.CollateralDecimals))

	if b.EscrowAllowance.Cmp(b.Collateral) < 0 {
		fmt.Fprintf(out, "\nWarning: escrow allowance is below the collateral balance; stakes above it will revert.\n")
	}

	return nil
}

func balanceOwner(address string, privateKey string) (common.Address, error) {
	if address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, fmt.Errorf("invalid address %q", address)
		}
		return common.HexToAddress(address), nil
	}
	if privateKey == "" {
		return common.Address{}, fmt.Errorf("set --address or BOT_PRIVATE_KEY")
	}

	signer, err := signing.NewSigner(privateKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("load bot key: %w", err)
	}
	return signer.Address(), nil
}

// formatUnits renders base units as a decimal with the given precision.
func formatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(math.Pow10(decimals)))
	return f.Text('f', min(decimals, 6))
}
