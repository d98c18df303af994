package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinyassets/internal/config"
	"tinyassets/internal/db"
	"tinyassets/internal/store"
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
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)

	if cfg.RunOnce {
		if err := purge(ctx, st, cfg.IdempotencyRetention, logger); err != nil {
			logger.Error("purge failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.PurgeEvery)
	defer ticker.Stop()

	logger.Info("worker started", "purge_every", cfg.PurgeEvery.String(), "retention", cfg.IdempotencyRetention.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := purge(ctx, st, cfg.IdempotencyRetention, logger); err != nil {
				logger.Error("purge failed", "err", err)
			}
		}
	}
}

// purge drops idempotency keys older than the retention window. Replays
// older than that are treated as new commands.
func purge(ctx context.Context, st store.Store, retention time.Duration, logger *slog.Logger) error {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := st.PurgeIdempotencyKeys(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("idempotency keys purged", "removed", n, "before", cutoff)
	return nil
}
