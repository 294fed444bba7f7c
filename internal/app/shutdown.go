package app

import (
	"context"

	"convodb/pkg/state/logger"
	"convodb/pkg/telemetry"
)

// Shutdown stops components in reverse dependency order: stop accepting
// requests, stop background jobs, end subscriptions, then close the store.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown: requested")
	a.ready.Store(false)

	if a.srvFast != nil {
		logger.Info("shutdown: stopping FastHTTP server")
		if err := a.srvFast.ShutdownWithContext(ctx); err != nil {
			logger.Error("shutdown: fasthttp shutdown error", "error", err)
		}
	}
	// hijacked websockets outlive the server shutdown
	if a.sockets != nil {
		logger.Info("shutdown: closing live connections", "open", a.sockets.Active())
		if err := a.sockets.Close(ctx); err != nil {
			logger.Error("shutdown: live connections did not drain", "error", err)
		}
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.sweeper != nil {
		logger.Info("shutdown: stopping presence sweeper")
		a.sweeper.Stop()
	}
	if a.engine != nil {
		logger.Info("shutdown: closing live engine")
		a.engine.Close()
	}

	var closeErr error
	if a.store != nil {
		logger.Info("shutdown: closing store")
		if closeErr = a.store.Close(); closeErr != nil {
			logger.Error("shutdown: store close error", "error", closeErr)
		}
	}

	logger.Info("shutdown: closing telemetry")
	telemetry.Close()

	logger.Info("shutdown: complete")
	return closeErr
}
