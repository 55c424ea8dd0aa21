// Package main provides the entry point for the authgate server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/telefleet/authgate/internal/api"
	"github.com/telefleet/authgate/internal/clock"
	"github.com/telefleet/authgate/internal/config"
	"github.com/telefleet/authgate/internal/gate"
	"github.com/telefleet/authgate/internal/metrics"
	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/registry"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/token"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("authgate starting", "version", version, "listen_addr", cfg.ListenAddr)

	if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	store, err := storage.New(cfg.DatabasePath, cfg.EncryptionKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}

	policyEngine := policy.NewEngine(store, clk, logger)
	if err := policyEngine.Load(ctx); err != nil {
		return err
	}

	var prober registry.Prober
	if cfg.ProbeURL != "" {
		prober = registry.NewHTTPProber(cfg.ProbeURL)
	}
	reg, err := registry.New(ctx, store, prober, clk, logger, cfg.ProbeTimeout)
	if err != nil {
		return err
	}

	tokenEngine := token.NewEngine(store, reg, clk, logger, token.Config{
		SupersedeActive: cfg.SupersedeTokens,
	})

	g := gate.New(policyEngine, tokenEngine, logger)

	handler := api.NewHandler(store, tokenEngine, reg, policyEngine, g, logLevel, logger)
	if err := handler.Bootstrap(ctx, cfg.BootstrapAdminKey); err != nil {
		return err
	}

	if prober != nil && cfg.RefreshInterval > 0 {
		go reg.RunRefresher(ctx, cfg.RefreshInterval)
	}
	if cfg.SweepInterval > 0 {
		go tokenEngine.RunSweeper(ctx, cfg.SweepInterval)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logger.Info("metrics listener starting", "addr", cfg.MetricsListenAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listener starting", "addr", cfg.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
