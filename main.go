package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftpursuit/aimsolver/internal/config"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		return 2
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//1.- Telemetry comes up before the app so startup logs already carry the exporters.
	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("telemetry setup failed", logging.Error(err))
		return 1
	}
	logger.Mirror(providers.Slog())
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", logging.Error(err))
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("aim service failed to start", logging.Error(err))
		return 1
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("audit close failed", logging.Error(err))
		}
	}()

	if err := a.run(ctx); err != nil {
		logger.Error("aim service stopped with error", logging.Error(err))
		return 1
	}
	logger.Info("aim service stopped")
	return 0
}
