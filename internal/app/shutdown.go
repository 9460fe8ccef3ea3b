package app

import (
	"context"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), componentTimeout)
	defer shutdownCancel()

	// Stop accepting peer messages before the ops server goes away
	err := a.listener.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("p2p-listener-shutdown-error", zap.Error(err))
	}

	err = a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	if a.stream != nil {
		err = a.stream.Close()
		if err != nil {
			a.logger.Error("price-stream-close-error", zap.Error(err))
		}
	}

	var runErr error
	if a.group != nil {
		runErr = a.group.Wait()
	}

	// Last chance to mirror queued events
	if a.backendSync != nil && a.backendSync.PendingCount() > 0 {
		sent, drainErr := a.backendSync.Drain(shutdownCtx)
		a.logger.Info("backend-final-drain",
			zap.Int("sent", sent),
			zap.Int("pending", a.backendSync.PendingCount()),
			zap.Error(drainErr))
	}

	a.release()

	a.logger.Info("application-shutdown-complete",
		zap.Uint64s("open-disputes", a.engine.Disputes()))

	return runErr
}

// release closes storage, cache and RPC clients. Safe on a partially built App.
func (a *App) release() {
	if a == nil {
		return
	}
	if a.storage != nil {
		err := a.storage.Close()
		if err != nil {
			a.logger.Error("storage-close-error", zap.Error(err))
		}
		a.storage = nil
	}
	if a.cache != nil {
		a.cache.Close()
		a.cache = nil
	}
	for _, rpc := range a.rpcs {
		rpc.Close()
	}
	a.rpcs = nil
}

// Close releases resources of an App that was never Run.
func (a *App) Close() {
	a.cancel()
	a.release()
}
