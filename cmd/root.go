package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "p2p-wager",
	Short: "Peer-to-peer wager agent",
	Long: `Peer-to-peer wager agent that negotiates bilateral bets over portfolios of
price-threshold trades, commits them to an on-chain escrow and settles them
by signed agreement, custom payout or arbitration.

Configuration is read from the environment. A .env file in the working
directory is loaded first when present.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: load .env: %v\n", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
