package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"altanian/internal/archive"
	"altanian/internal/config"
	"altanian/internal/game"
	"altanian/internal/metrics"
	"altanian/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	balance, err := config.LoadBalance(cfg.BalanceFile)
	if err != nil {
		logger.Error("load balance failed", "err", err)
		os.Exit(1)
	}
	ledgers, closeStore, err := store.Open(ctx, store.Options{
		Driver:         cfg.Store,
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.SQLitePath,
		ConnectTimeout: cfg.StoreTimeout,
		AppName:        "altanian-worker",
	}, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := game.NewService(ledgers, balance, logger)
	svc.SetStoreTimeout(cfg.StoreTimeout)

	if cfg.RunOnce {
		if err := sweep(ctx, svc, logger); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		if cfg.ArchiveDir != "" {
			if err := writeArchive(ctx, svc, cfg.ArchiveDir, logger); err != nil {
				logger.Error("archive failed", "err", err)
				os.Exit(1)
			}
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()
	var archiveC <-chan time.Time
	if cfg.ArchiveDir != "" && cfg.ArchiveEvery > 0 {
		archiveTicker := time.NewTicker(cfg.ArchiveEvery)
		defer archiveTicker.Stop()
		archiveC = archiveTicker.C
	}

	logger.Info("worker started",
		"sweep_every", cfg.SweepEvery.String(),
		"archive_dir", cfg.ArchiveDir,
		"archive_every", cfg.ArchiveEvery.String(),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := sweep(ctx, svc, logger); err != nil {
				logger.Error("sweep failed", "err", err)
			}
		case <-archiveC:
			if err := writeArchive(ctx, svc, cfg.ArchiveDir, logger); err != nil {
				logger.Error("archive failed", "err", err)
			}
		}
	}
}

func sweep(ctx context.Context, svc *game.Service, logger *slog.Logger) error {
	start := time.Now()
	n, err := svc.RunTickSweep(ctx)
	metrics.SweepLedgers.Set(float64(n))
	if err != nil {
		return err
	}
	logger.Info("sweep complete", "ledgers", n, "took_ms", time.Since(start).Milliseconds())
	return nil
}

func writeArchive(ctx context.Context, svc *game.Service, dir string, logger *slog.Logger) error {
	ledgers, err := svc.ExportLedgers(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	path := archive.Path(dir, now)
	if err := archive.Write(path, ledgers, now); err != nil {
		return err
	}
	logger.Info("archive written", "path", path, "ledgers", len(ledgers))
	return nil
}
