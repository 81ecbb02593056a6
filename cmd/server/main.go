package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"myaccountapp/account-client/internal/app"
	"myaccountapp/account-client/internal/config"
	"myaccountapp/account-client/internal/observability"
)

func main() {
	logger := observability.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("create app", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
	logger.Info("account client stopped")
}
