package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tinyassets/internal/api"
	"tinyassets/internal/auth"
	"tinyassets/internal/config"
	"tinyassets/internal/db"
	"tinyassets/internal/game"
	"tinyassets/internal/metrics"
	"tinyassets/internal/rules"
	"tinyassets/internal/store"
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

	ruleset := rules.Default()
	if cfg.ContentFile != "" {
		ruleset, err = rules.LoadFile(cfg.ContentFile)
		if err != nil {
			logger.Error("load content failed", "file", cfg.ContentFile, "err", err)
			os.Exit(1)
		}
	}

	var st store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	} else {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := store.NewPostgresStore(pool)
		if cfg.ApplySchema {
			if err := pg.ApplySchema(ctx); err != nil {
				logger.Error("apply schema failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache reads will fall through", "err", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL, logger)
	}

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	gameSvc := game.NewService(st, ruleset, logger,
		game.WithSeed(cfg.RandomSeed),
		game.WithRecorder(metrics.Recorder{}),
		game.WithNotifier(hub),
	)

	server := api.New(logger, authClient, gameSvc, hub)
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

	logger.Info("tinyassets api listening", "addr", cfg.Addr, "ruleset", ruleset.Version)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
