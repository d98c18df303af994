package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"tinyassets/internal/rules"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// hot read projections (game state and holdings). Writes go to the primary
// and then invalidate the player's keys. Snapshot always reads the primary
// because day execution must see committed history.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl, log: logger}
}

func stateKey(userID string) string    { return "tiny:state:" + userID }
func holdingsKey(userID string) string { return "tiny:holdings:" + userID }

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if err := s.rdb.Del(ctx, stateKey(userID), holdingsKey(userID)).Err(); err != nil {
		s.log.Warn("cache invalidate failed", "user_id", userID, "err", err)
	}
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn("cache set failed", "key", key, "err", err)
	}
}

func getCached[T any](ctx context.Context, rdb *redis.Client, key string) (T, bool) {
	var out T
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return out, false
	}
	if json.Unmarshal(data, &out) != nil {
		return out, false
	}
	return out, true
}

// --- Read-through ---

func (s *CachedStore) GameState(ctx context.Context, userID string) (rules.GameState, error) {
	if st, ok := getCached[rules.GameState](ctx, s.rdb, stateKey(userID)); ok {
		return st, nil
	}
	st, err := s.primary.GameState(ctx, userID)
	if err != nil {
		return st, err
	}
	s.put(ctx, stateKey(userID), st)
	return st, nil
}

func (s *CachedStore) Holdings(ctx context.Context, userID string) (rules.Holdings, error) {
	if h, ok := getCached[rules.Holdings](ctx, s.rdb, holdingsKey(userID)); ok {
		return h, nil
	}
	h, err := s.primary.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, holdingsKey(userID), h)
	return h, nil
}

func (s *CachedStore) EnsureGameState(ctx context.Context, init rules.GameState) (rules.GameState, error) {
	if st, ok := getCached[rules.GameState](ctx, s.rdb, stateKey(init.UserID)); ok {
		return st, nil
	}
	st, err := s.primary.EnsureGameState(ctx, init)
	if err != nil {
		return st, err
	}
	s.put(ctx, stateKey(init.UserID), st)
	return st, nil
}

// --- Write-through ---

func (s *CachedStore) Commit(ctx context.Context, c Commit) (rules.GameState, error) {
	st, err := s.primary.Commit(ctx, c)
	if err != nil {
		return st, err
	}
	s.invalidate(ctx, c.UserID)
	return st, nil
}

func (s *CachedStore) SaveParentPIN(ctx context.Context, userID, hash string, replace bool) error {
	return s.primary.SaveParentPIN(ctx, userID, hash, replace)
}

// --- Passthrough ---

func (s *CachedStore) Snapshot(ctx context.Context, userID string) (rules.Snapshot, error) {
	return s.primary.Snapshot(ctx, userID)
}

func (s *CachedStore) EventHistory(ctx context.Context, userID string, limit int) ([]rules.EventRecord, error) {
	return s.primary.EventHistory(ctx, userID, limit)
}

func (s *CachedStore) Transactions(ctx context.Context, userID string, limit int) ([]rules.Transaction, error) {
	return s.primary.Transactions(ctx, userID, limit)
}

func (s *CachedStore) Production(ctx context.Context, userID string, limit int) ([]rules.ProductionRecord, error) {
	return s.primary.Production(ctx, userID, limit)
}

func (s *CachedStore) Badges(ctx context.Context, userID string) ([]rules.EarnedBadge, error) {
	return s.primary.Badges(ctx, userID)
}

func (s *CachedStore) Missions(ctx context.Context, userID string) ([]rules.MissionProgress, error) {
	return s.primary.Missions(ctx, userID)
}

func (s *CachedStore) ParentPINHash(ctx context.Context, userID string) (string, error) {
	return s.primary.ParentPINHash(ctx, userID)
}

func (s *CachedStore) PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	return s.primary.PurgeIdempotencyKeys(ctx, before)
}
