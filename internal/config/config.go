package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	SupabaseURL     string
	SupabaseAnonKey string
	ContentFile     string
	ApplySchema     bool
	RandomSeed      int64
}

type WorkerConfig struct {
	DatabaseURL          string
	PurgeEvery           time.Duration
	IdempotencyRetention time.Duration
	RunOnce              bool
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadAPIFromEnv reads the API settings. An empty DATABASE_URL selects the
// in-memory store.
func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TINYASSETS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:        envDurationDefault("TINYASSETS_CACHE_TTL", 30*time.Second),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		ContentFile:     strings.TrimSpace(os.Getenv("TINYASSETS_CONTENT_FILE")),
		ApplySchema:     envBoolDefault("TINYASSETS_APPLY_SCHEMA", true),
		RandomSeed:      envIntDefault("TINYASSETS_RANDOM_SEED", 0),
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.CacheTTL <= 0 {
		return cfg, fmt.Errorf("TINYASSETS_CACHE_TTL must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		PurgeEvery:           envDurationDefault("TINYASSETS_PURGE_EVERY", time.Hour),
		IdempotencyRetention: envDurationDefault("TINYASSETS_IDEMPOTENCY_RETENTION", 72*time.Hour),
		RunOnce:              envBoolDefault("TINYASSETS_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PurgeEvery <= 0 || cfg.IdempotencyRetention <= 0 {
		return cfg, fmt.Errorf("purge interval and retention must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TINY_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
