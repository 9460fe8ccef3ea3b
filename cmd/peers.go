package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/p2p-wager/internal/app"
	"github.com/mselser95/p2p-wager/internal/discovery"
	"github.com/mselser95/p2p-wager/internal/transport"
	"github.com/mselser95/p2p-wager/pkg/cache"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List registered peers and probe their health",
	Long: `Reads the active bots from the escrow's registry, excluding this bot when
BOT_PRIVATE_KEY is set, and probes each endpoint's /health.

Use --info to also fetch each healthy peer's /info.`,
	RunE: runPeers,
}

//nolint:gochecknoglobals // Cobra boilerplate
var peersInfo bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(peersCmd)

	peersCmd.Flags().BoolVarP(&peersInfo, "info", "i", false, "Fetch /info from healthy peers")
}

func runPeers(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	var self common.Address
	if cfg.BotPrivateKey != "" {
		signer, signerErr := signing.NewSigner(cfg.BotPrivateKey)
		if signerErr != nil {
			return fmt.Errorf("load bot key: %w", signerErr)
		}
		self = signer.Address()
	}

	ledger, _, rpcs, err := app.NewLedger(ctx, cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("setup ledger: %w", err)
	}
	defer func() {
		for _, rpc := range rpcs {
			rpc.Close()
		}
	}()

	peerCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer peerCache.Close()

	svc, err := discovery.New(&discovery.Config{
		Registry: ledger,
		Cache:    peerCache,
		Self:     self,
		CacheTTL: cfg.DiscoveryCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}

	client, err := transport.New(&transport.Config{
		Policy: transport.RetryPolicy{
			MaxAttempts:    1,
			AttemptTimeout: cfg.TransportAttemptTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("setup transport: %w", err)
	}

	peers := svc.Peers(ctx)
	healthy := make(map[common.Address]bool)
	for _, p := range svc.HealthyPeers(ctx, client) {
		healthy[p.Address] = true
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Registered Peers (%d) ===\n\n", len(peers))
	for _, p := range peers {
		status := "DOWN"
		if healthy[p.Address] {
			status = "UP"
		}
		fmt.Fprintf(out, "%-4s %s  %s\n", status, p.Address.Hex(), p.Endpoint)

		if !peersInfo || !healthy[p.Address] {
			continue
		}
		info, infoErr := client.GetPeerInfo(ctx, p.Endpoint)
		if infoErr != nil {
			fmt.Fprintf(out, "     info: %v\n", infoErr)
			continue
		}
		fmt.Fprintf(out, "     protocol=%s/%s chain=%s contract=%s\n", info.ProtocolName, info.ProtocolVersion, info.ChainID, info.VerifyingContract)
	}
	fmt.Fprintf(out, "\nHealthy: %d / %d\n", len(healthy), len(peers))

	return nil
}
