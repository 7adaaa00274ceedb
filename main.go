package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bhoomi/internal/app"
	"bhoomi/internal/config"
	"bhoomi/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.New(os.Stdout, cfg.DevMode)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run bootstraps the optional infrastructure and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, opts *app.Options) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, deps, opts)
	if err != nil {
		deps.Close()
		return err
	}

	log.Info("bhoomi starting",
		"data_root", cfg.DataRoot,
		"index_dir", cfg.IndexLocation(),
		"postgres", deps.DB != nil,
		"weaviate", deps.Mirror != nil,
		"nsq", deps.NSQProducer != nil,
		"redis", deps.Redis != nil,
	)
	return application.Run(ctx)
}
