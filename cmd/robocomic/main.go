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

	"github.com/ent0n29/robocomic/internal/app"
	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/config"
	"github.com/ent0n29/robocomic/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.InitTracing("robocomic", version, nil)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}()
	logger.Info("storage selected",
		"shows", built.Storage.Shows,
		"tts_index", built.Storage.Index,
		"tts_blobs", built.Storage.Blobs,
		"auth", built.Storage.Auth,
		"backend_mode", cfg.BackendMode,
	)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	built.Views.StartJanitor(runCtx, 5*time.Second)
	if cfg.BackendMode != "mock" {
		go backend.KeepAlive(runCtx, built.Backend, cfg.BackendKeepAliveInterval, logger.With("component", "keepalive"))
	}

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
