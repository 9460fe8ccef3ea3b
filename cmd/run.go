package cmd

import (
	"fmt"

	"github.com/mselser95/p2p-wager/internal/app"
	"github.com/mselser95/p2p-wager/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the wager agent",
	Long: `Starts the wager agent, which will:
1. Register its P2P endpoint in the escrow's bot registry
2. Serve signed proposals, acceptances, settlements and payouts from peers
3. Discover peers and answer settlement rounds against its own outcome
4. Escalate unresolved disputes to arbitration after the bet deadline

Committed portfolios are loaded from PORTFOLIO_DIR.`,
	RunE: runBot,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
