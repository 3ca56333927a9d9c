package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
	"github.com/kailas-cloud/ragdex/internal/extract"
	logpkg "github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/transport/fetch"
	chiTransport "github.com/kailas-cloud/ragdex/internal/transport/chi"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragdex/internal/usecase/ingest"
	ledgeruc "github.com/kailas-cloud/ragdex/internal/usecase/ledger"
	"github.com/kailas-cloud/ragdex/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	env := resolveEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("ledger_driver", cfg.Ledger.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterProviderMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	repo, err := openLedger(ctx, cfg.Ledger, a.store)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("Failed to close ledger", zap.Error(err))
		}
	}()
	ledger := ledgeruc.New(repo, logger)

	// Pass nil interface (not typed nil pointer!) when URL ingestion is disabled.
	var fetcher ingestuc.Fetcher
	if cfg.Fetch.Enabled {
		fetcher = fetch.New(fetch.Config{
			Timeout:   time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
			UserAgent: cfg.Fetch.UserAgent,
			MaxBytes:  cfg.Fetch.MaxBytes,
			Rate:      cfg.Fetch.RequestsPerSecond,
			Burst:     cfg.Fetch.Burst,
		}, logger)
	}

	ingest := ingestuc.New(a.pipeline, ledger, fetcher, ingestuc.Config{
		Workers:   cfg.Ingestion.Workers,
		QueueSize: cfg.Ingestion.QueueSize,
	}, logger)
	workersCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	ingest.Start(workersCtx)

	// Preload stops before the pool so a waiting submit never races Stop.
	preloadCtx, cancelPreload := context.WithCancel(workersCtx)
	defer cancelPreload()
	if dirs := cfg.Ingestion.PreloadDirs; len(dirs) > 0 {
		go func() {
			if _, err := ingest.Preload(preloadCtx, dirs, extract.Supported); err != nil {
				logger.Warn("Preload stopped", zap.Error(err))
			}
		}()
	}

	var dbPinger healthuc.Pinger
	if a.store != nil {
		dbPinger = a.store
	}
	health := healthuc.New(dbPinger, ledger, a.embedding, a.pipeline)

	server := chiTransport.NewServer(a.pipeline, ingest, ledger, health, logger).
		WithMaxUploadBytes(int64(cfg.HTTP.MaxUploadMB) << 20).
		WithRateLimits(
			chiTransport.NewRateLimiter(cfg.RateLimit.IngestPerMinute),
			chiTransport.NewRateLimiter(cfg.RateLimit.ChatPerMinute),
		)
	handler := chiTransport.NewRouter(server, chiTransport.RouterOptions{
		APIKeys:        cfg.Auth.APIKeys,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		logger.Error("HTTP server error", zap.Error(err))
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	cancelPreload()
	if err := ingest.Stop(shutdownCtx); err != nil {
		logger.Warn("Ingestion workers did not drain", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
