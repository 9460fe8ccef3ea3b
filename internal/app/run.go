package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mselser95/p2p-wager/pkg/signing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sweepInterval    = time.Minute
	registerTimeout  = 3 * time.Minute
	componentTimeout = 10 * time.Second
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("p2p-port", a.cfg.P2PPort),
		zap.String("http-port", a.cfg.HTTPPort),
		zap.Int("portfolios", a.book.Len()),
		zap.String("storage", a.cfg.StorageMode),
		zap.String("log-level", a.cfg.LogLevel))

	var gctx context.Context
	a.group, gctx = errgroup.WithContext(a.ctx)

	err := a.startComponents(gctx)
	if err != nil {
		a.logger.Error("application-start-failed", zap.Error(err))
		_ = a.Shutdown()
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("p2p-endpoint", a.cfg.P2PPublicEndpoint),
		zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown(gctx)
}

// Settle runs one settlement round for betID against its counterparty. The
// listener is not started, so the counterparty must answer through its own.
func (a *App) Settle(ctx context.Context, betID uint64) (*signing.SettlementAgreement, error) {
	return a.engine.Settle(ctx, betID)
}

func (a *App) startComponents(ctx context.Context) error {
	if a.stream != nil {
		err := a.stream.Start()
		if err != nil {
			return fmt.Errorf("start price stream: %w", err)
		}
		tickers := a.book.Tickers()
		if len(tickers) > 0 {
			err = a.streamSource.Track(tickers)
			if err != nil {
				return fmt.Errorf("track tickers: %w", err)
			}
		}
		a.spawn(ctx, "price-stream", a.streamSource.Run)
	}

	a.spawn(ctx, "http-server", func(context.Context) error {
		return a.httpServer.Start()
	})
	a.spawn(ctx, "p2p-listener", func(context.Context) error {
		return a.listener.Start()
	})
	a.spawn(ctx, "p2p-handlers", a.listener.Run)
	a.spawn(ctx, "rate-limit-sweeper", func(ctx context.Context) error {
		a.listener.RunSweeper(ctx, sweepInterval)
		return nil
	})

	a.register(ctx)

	a.spawn(ctx, "discovery", a.discovery.Run)
	a.spawn(ctx, "escalation", func(ctx context.Context) error {
		return a.engine.RunEscalation(ctx, a.cfg.EscalationInterval)
	})
	a.spawn(ctx, "negotiator", a.negotiator.Run)
	a.spawn(ctx, "peer-watch", a.watchPeers)

	if a.backendSync != nil {
		a.spawn(ctx, "backend-sync", a.backendSync.Run)
	}
	if a.wallet != nil {
		a.spawn(ctx, "wallet-tracker", a.wallet.Run)
	}

	return nil
}

// spawn runs fn in the group. Cancellation is a clean exit; any other error
// stops the whole application.
func (a *App) spawn(ctx context.Context, name string, fn func(context.Context) error) {
	a.group.Go(func() error {
		err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("component-failed", zap.String("component", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// register announces the public endpoint unless the registry already lists it.
func (a *App) register(ctx context.Context) {
	endpoint := a.cfg.P2PPublicEndpoint
	if endpoint == "" || a.registrar == nil {
		a.logger.Info("bot-registration-skipped", zap.String("reason", "no public endpoint"))
		return
	}

	regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	self := a.engine.Address()
	addresses, endpoints, err := a.ledger.ActiveBots(regCtx)
	if err == nil {
		for i, addr := range addresses {
			if addr == self && i < len(endpoints) && endpoints[i] == endpoint {
				a.logger.Info("bot-already-registered", zap.String("endpoint", endpoint))
				return
			}
		}
	}

	res, err := a.registrar.RegisterBot(regCtx, endpoint)
	if err != nil {
		a.logger.Warn("bot-registration-failed", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}
	a.logger.Info("bot-registered",
		zap.String("endpoint", endpoint),
		zap.String("tx-hash", res.TxHash))
}

func (a *App) waitForShutdown(gctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-gctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
