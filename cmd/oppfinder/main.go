package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kailas-cloud/oppfinder/internal/app"
	"github.com/kailas-cloud/oppfinder/internal/config"
	logpkg "github.com/kailas-cloud/oppfinder/internal/logger"
	chiTransport "github.com/kailas-cloud/oppfinder/internal/transport/chi"
	"github.com/kailas-cloud/oppfinder/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	providers := make([]string, 0, len(cfg.Embedding.Providers))
	for name := range cfg.Embedding.Providers {
		providers = append(providers, name)
	}
	logger.Info("Starting oppfinder API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Strings("cache_addrs", cfg.Cache.Addrs),
		zap.Strings("embedding_providers", providers),
		zap.Bool("indexing", cfg.Indexing.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build services", zap.Error(err))
	}
	defer a.Close()

	a.Sweeper.Start(ctx)

	server := chiTransport.NewServer(a.Search, a.Health, logger, chiTransport.WithUsage(a.Usage))

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
