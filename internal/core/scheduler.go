package core

// scheduler.go runs background maintenance for the run history.
//
// Old run records are purged on a fixed interval. The loop runs once at
// start, then every CheckInterval until ctx is cancelled. A failed purge is
// logged and retried on the next interval.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls run history purging.
type RetentionConfig struct {
	RetentionDays int           // records older than this are deleted (default: 90)
	CheckInterval time.Duration // how often to purge (default: 24h)
}

// StartRetentionScheduler purges run history older than the retention
// window until ctx is cancelled. It blocks; run it in a goroutine.
func StartRetentionScheduler(ctx context.Context, purger RunPurger, cfg RetentionConfig) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 24 * time.Hour
	}

	slog.Info("retention scheduler started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.CheckInterval,
	)

	runPurge(ctx, purger, cfg.RetentionDays)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			runPurge(ctx, purger, cfg.RetentionDays)
		}
	}
}

func runPurge(ctx context.Context, purger RunPurger, days int) {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -days)

	purged, err := purger.Purge(ctx, cutoff)
	if err != nil {
		slog.Error("run history purge failed", "error", err)
		return
	}
	slog.Info("run history purged",
		"rows_purged", purged,
		"cutoff", cutoff.Format(time.DateOnly),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
