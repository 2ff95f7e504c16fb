package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/importdesk/internal/config"
	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/JonMunkholm/importdesk/internal/history"
	"github.com/JonMunkholm/importdesk/internal/logging"
	"github.com/JonMunkholm/importdesk/internal/metrics"
	"github.com/JonMunkholm/importdesk/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if n, err := config.LoadEnvFiles(".env"); err != nil {
		slog.Warn("failed to read .env file", "error", err)
	} else if n == 0 {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	collectors := metrics.New(prometheus.DefaultRegisterer)

	client, err := gateway.New(gateway.Config{
		BaseURL:       cfg.Gateway.URL,
		APIKey:        cfg.Gateway.APIKey,
		APISecret:     cfg.Gateway.APISecret,
		Timeout:       cfg.Gateway.Timeout,
		RetryAttempts: cfg.Gateway.RetryAttempts,
		RateLimit:     cfg.Gateway.RateLimit,
	})
	if err != nil {
		slog.Error("failed to create gateway client", "error", err)
		os.Exit(1)
	}
	client.SetObserver(collectors.ObserveGateway)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	opts := []core.Option{core.WithObserver(collectors)}
	webOpts := web.Options{Metrics: promhttp.Handler()}

	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		pool, err = connectDatabase(jobCtx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		ledger := history.NewLedger(pool)
		if err := ledger.EnsureSchema(jobCtx); err != nil {
			slog.Error("failed to prepare run history", "error", err)
			os.Exit(1)
		}
		opts = append(opts, core.WithRecorder(ledger))
		webOpts.History = ledger

		go core.StartRetentionScheduler(jobCtx, ledger, core.RetentionConfig{
			RetentionDays: cfg.History.RetentionDays,
			CheckInterval: cfg.History.PurgeInterval,
		})
		slog.Info("run history enabled", "retention_days", cfg.History.RetentionDays)
	} else {
		slog.Info("run history disabled, DATABASE_URL is not set")
	}

	service := core.NewService(client, core.Config{
		PollInterval:         cfg.Import.PollInterval,
		RefreshDebounce:      cfg.Import.RefreshDebounce,
		ViewIdleTimeout:      cfg.Import.ViewIdleTimeout,
		MaxViews:             cfg.Import.MaxViews,
		SchemaCacheTTL:       cfg.Import.SchemaCacheTTL,
		MaxFileSize:          cfg.Upload.MaxFileSize,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		UploadMaxWait:        cfg.Upload.MaxWaitTime,
		UploadFolder:         cfg.Upload.Folder,
	}, opts...)

	server := web.NewServer(service, cfg, webOpts)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Closing views ends event streams so the server can drain.
		if active := service.UploadLimiter().ActiveCount(); active > 0 {
			slog.Info("waiting for uploads to complete", "active", active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("uploads did not complete in time", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
