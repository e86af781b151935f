package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"altanian/internal/api"
	"altanian/internal/auth"
	"altanian/internal/config"
	"altanian/internal/game"
	"altanian/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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
		AppName:        "altanian-api",
	}, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	var authn api.Authenticator
	if len(cfg.DevTokens) > 0 {
		logger.Warn("using static dev tokens; do not run this in production", "tokens", len(cfg.DevTokens))
		authn = auth.NewStaticVerifier(cfg.DevTokens)
	} else {
		authn = auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}

	gameSvc := game.NewService(ledgers, balance, logger)
	gameSvc.SetStoreTimeout(cfg.StoreTimeout)

	server := api.New(cfg, logger, authn, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("altanian api listening", "addr", cfg.Addr, "store", cfg.Store)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
