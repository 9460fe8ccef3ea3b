package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mselser95/p2p-wager/internal/backend"
	"github.com/mselser95/p2p-wager/internal/circuitbreaker"
	"github.com/mselser95/p2p-wager/internal/discovery"
	"github.com/mselser95/p2p-wager/internal/escrow"
	"github.com/mselser95/p2p-wager/internal/negotiation"
	"github.com/mselser95/p2p-wager/internal/p2p"
	"github.com/mselser95/p2p-wager/internal/pricefeed"
	"github.com/mselser95/p2p-wager/internal/proposal"
	"github.com/mselser95/p2p-wager/internal/resilience"
	"github.com/mselser95/p2p-wager/internal/settlement"
	"github.com/mselser95/p2p-wager/internal/storage"
	"github.com/mselser95/p2p-wager/internal/transport"
	"github.com/mselser95/p2p-wager/pkg/cache"
	"github.com/mselser95/p2p-wager/pkg/config"
	"github.com/mselser95/p2p-wager/pkg/healthprobe"
	"github.com/mselser95/p2p-wager/pkg/httpserver"
	"github.com/mselser95/p2p-wager/pkg/signing"
	"github.com/mselser95/p2p-wager/pkg/wallet"
	"github.com/mselser95/p2p-wager/pkg/websocket"
	"go.uber.org/zap"
)

// New creates a new application instance. Nothing is started until Run.
func New(cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	err = cfg.RequireIdentity()
	if err != nil {
		return nil, err
	}

	var a *App
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			cancel()
			a.release()
		}
	}()

	signer, err := signing.NewSigner(cfg.BotPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load bot key: %w", err)
	}
	domain := Domain(cfg)

	a = &App{
		cfg:    cfg,
		logger: logger.With(zap.String("bot", signer.Address().Hex())),
		ctx:    ctx,
		cancel: cancel,
	}
	logger = a.logger

	a.ledger, a.registrar, err = a.setupLedger(ctx, signer)
	if err != nil {
		return nil, fmt.Errorf("setup ledger: %w", err)
	}

	a.cache, err = setupCache(logger)
	if err != nil {
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	a.discovery, err = discovery.New(&discovery.Config{
		Registry:     a.ledger,
		Cache:        a.cache,
		Self:         signer.Address(),
		CacheTTL:     cfg.DiscoveryCacheTTL,
		PollInterval: cfg.DiscoveryPollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup discovery: %w", err)
	}

	a.peers, err = transport.New(&transport.Config{
		Policy: transport.RetryPolicy{
			MaxAttempts:    cfg.TransportMaxAttempts,
			BaseDelay:      cfg.TransportBaseDelay,
			MaxDelay:       cfg.TransportMaxDelay,
			AttemptTimeout: cfg.TransportAttemptTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	prices, err := a.setupPrices()
	if err != nil {
		return nil, fmt.Errorf("setup prices: %w", err)
	}

	var events settlement.EventRecorder
	if cfg.BackendURL != "" {
		a.backendSync, err = a.setupBackend()
		if err != nil {
			return nil, fmt.Errorf("setup backend: %w", err)
		}
		events = a.backendSync
	}

	a.storage, err = setupStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	a.book = settlement.NewBook()
	if cfg.PortfolioDir != "" {
		loaded, loadErr := a.book.LoadDir(cfg.PortfolioDir)
		if loadErr != nil {
			return nil, fmt.Errorf("load portfolios: %w", loadErr)
		}
		logger.Info("portfolios-loaded",
			zap.String("dir", cfg.PortfolioDir),
			zap.Int("count", loaded))
	}

	a.engine, err = settlement.New(&settlement.Config{
		Domain:        domain,
		Signer:        signer,
		Ledger:        a.ledger,
		Prices:        prices,
		Book:          a.book,
		Store:         a.storage,
		Events:        events,
		Peers:         a.discovery,
		Sender:        a.peers,
		CounterRounds: cfg.CounterRounds,
		ExpiryWindow:  cfg.MessageExpiryWindow,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup settlement engine: %w", err)
	}

	a.inbox, err = proposal.NewInbox(&proposal.InboxConfig{
		Domain: domain,
		Self:   signer.Address(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup proposal inbox: %w", err)
	}

	a.listener, err = p2p.New(&p2p.Config{
		Port:           cfg.P2PPort,
		Domain:         domain,
		Self:           signer.Address(),
		PublicEndpoint: cfg.P2PPublicEndpoint,
		Handler:        Handler{Inbox: a.inbox, Engine: a.engine},
		Bets:           a.ledger,
		RatePerSecond:  cfg.RateLimitPerSec,
		RateBurst:      cfg.RateLimitBurst,
		HandlerTimeout: cfg.TxReceiptWait + time.Minute,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup p2p listener: %w", err)
	}

	reporters := []resilience.Reporter{a.ledger, prices}
	if a.backendSync != nil {
		reporters = append(reporters, a.backendSync)
	}
	monitor := resilience.NewMonitor(reporters...)

	a.healthChecker = healthprobe.New()
	a.healthChecker.SetDegradedSource(monitor.Degraded)

	if cfg.CollateralToken != "" {
		a.wallet, err = a.setupWallet(signer.Address())
		if err != nil {
			return nil, fmt.Errorf("setup wallet: %w", err)
		}
	}

	a.negotiator, err = a.setupNegotiator(domain, signer)
	if err != nil {
		return nil, fmt.Errorf("setup negotiator: %w", err)
	}

	a.httpServer = httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: a.healthChecker,
		Services:      monitor,
		Bets:          a.engine,
		Negotiator:    a.negotiator,

		RequestTimeout: cfg.TxReceiptWait + time.Minute,
	})

	return a, nil
}

// Domain builds the EIP-712 domain shared by every signed message.
func Domain(cfg *config.Config) signing.Domain {
	return signing.Domain{
		Name:              cfg.ProtocolName,
		Version:           cfg.ProtocolVersion,
		ChainID:           cfg.ChainIDBig(),
		VerifyingContract: common.HexToAddress(cfg.EscrowAddress),
	}
}

// NewBreaker builds a named breaker from the configured policy.
func NewBreaker(cfg *config.Config, name string, logger *zap.Logger) (*circuitbreaker.Breaker, error) {
	return circuitbreaker.New(&circuitbreaker.Config{
		Name: name,
		Policy: circuitbreaker.Policy{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
		},
		Logger: logger,
	})
}

// NewLedger dials the configured RPC endpoints and wraps them in a failover
// ledger. The primary escrow client is returned for registry writes and the
// dialed RPC clients for the caller to close.
func NewLedger(
	ctx context.Context,
	cfg *config.Config,
	signer *signing.Signer,
	logger *zap.Logger,
) (ledger *resilience.FailoverLedger, primary *escrow.Client, rpcs []*ethclient.Client, err error) {
	defer func() {
		if err != nil {
			for _, rpc := range rpcs {
				rpc.Close()
			}
			rpcs = nil
		}
	}()

	dial := func(name string, url string) (*escrow.Client, error) {
		rpc, dialErr := ethclient.DialContext(ctx, url)
		if dialErr != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", name, dialErr)
		}
		rpcs = append(rpcs, rpc)

		esc := &escrow.Config{
			Name:        name,
			Backend:     rpc,
			Contract:    common.HexToAddress(cfg.EscrowAddress),
			ChainID:     cfg.ChainIDBig(),
			ReceiptWait: cfg.TxReceiptWait,
			Logger:      logger,
		}
		if signer != nil {
			esc.PrivateKey = signer.PrivateKey()
		}
		return escrow.New(esc)
	}

	primary, err = dial("primary", cfg.PrimaryRPCURL)
	if err != nil {
		return nil, nil, rpcs, err
	}

	var secondary resilience.Chain
	if cfg.SecondaryRPCURL != "" {
		client, dialErr := dial("secondary", cfg.SecondaryRPCURL)
		if dialErr != nil {
			return nil, nil, rpcs, dialErr
		}
		secondary = client
	}

	breaker, err := NewBreaker(cfg, resilience.DependencyPrimaryRPC, logger)
	if err != nil {
		return nil, nil, rpcs, fmt.Errorf("create breaker: %w", err)
	}

	ledger, err = resilience.NewFailoverLedger(&resilience.LedgerConfig{
		Primary:   primary,
		Secondary: secondary,
		Breaker:   breaker,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, rpcs, err
	}
	return ledger, primary, rpcs, nil
}

func (a *App) setupLedger(ctx context.Context, signer *signing.Signer) (*resilience.FailoverLedger, Registrar, error) {
	ledger, primary, rpcs, err := NewLedger(ctx, a.cfg, signer, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.rpcs = rpcs
	return ledger, primary, nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "app",
		NumCounters: 1000, // peer sets and two price snapshots
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
}

// setupPrices picks the streaming source when PRICE_STREAM_URL is set and the
// HTTP snapshot source otherwise, behind the resilient price service.
func (a *App) setupPrices() (*resilience.PriceService, error) {
	cfg := a.cfg

	var source pricefeed.Source
	if cfg.PriceStreamURL != "" {
		stream, err := websocket.New(websocket.Config{
			URL:                   cfg.PriceStreamURL,
			DialTimeout:           cfg.WSDialTimeout,
			ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
			ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
			ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
			Logger:                a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create price stream: %w", err)
		}
		streamSource, err := pricefeed.NewStreamSource(&pricefeed.StreamConfig{
			Stream: stream,
			MaxAge: cfg.PriceCacheFreshness,
			Logger: a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.stream, a.streamSource = stream, streamSource
		source = streamSource
	} else {
		httpSource, err := pricefeed.NewHTTPSource(&pricefeed.HTTPConfig{
			BaseURL: strings.TrimRight(cfg.PriceSourceURL, "/"),
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		source = httpSource
	}

	breaker, err := NewBreaker(cfg, resilience.DependencyPriceSource, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return resilience.NewPriceService(&resilience.PriceConfig{
		Source:    source,
		Breaker:   breaker,
		Cache:     a.cache,
		Freshness: cfg.PriceCacheFreshness,
		Logger:    a.logger,
	})
}

func (a *App) setupBackend() (*resilience.BackendSync, error) {
	client, err := backend.New(&backend.Config{
		BaseURL: strings.TrimRight(a.cfg.BackendURL, "/"),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}

	breaker, err := NewBreaker(a.cfg, resilience.DependencyBackend, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return resilience.NewBackendSync(&resilience.BackendConfig{
		Syncer:        client,
		Breaker:       breaker,
		DrainInterval: a.cfg.BackendSyncInterval,
		Logger:        a.logger,
	})
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

func (a *App) setupNegotiator(domain signing.Domain, signer *signing.Signer) (*negotiation.Negotiator, error) {
	builder, err := proposal.NewBuilder(&proposal.Config{
		Self:         signer.Address(),
		Nonces:       a.ledger,
		ExpiryWindow: a.cfg.MessageExpiryWindow,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}

	cfg := &negotiation.Config{
		Domain:    domain,
		Signer:    signer,
		Builder:   builder,
		Inbox:     a.inbox,
		Trees:     a.book,
		Peers:     a.discovery,
		Sender:    a.peers,
		Committer: a.engine,
		Logger:    a.logger,
	}
	if a.wallet != nil {
		cfg.Funds = a.wallet
	}
	return negotiation.New(cfg)
}

func (a *App) setupWallet(self common.Address) (*wallet.Tracker, error) {
	if len(a.rpcs) == 0 {
		return nil, fmt.Errorf("no rpc client for wallet reads")
	}

	return wallet.New(&wallet.Config{
		Reader:             a.rpcs[0],
		Address:            self,
		CollateralToken:    common.HexToAddress(a.cfg.CollateralToken),
		Escrow:             common.HexToAddress(a.cfg.EscrowAddress),
		CollateralDecimals: a.cfg.CollateralDecimals,
		PollInterval:       a.cfg.WalletPollInterval,
		Logger:             a.logger,
	})
}
