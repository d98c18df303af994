package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tinyassets/internal/rules"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ApplySchema creates the tiny schema and its tables when missing.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const stateColumns = `user_id, tokens, xp, level, day, tutorial_complete, days_diversified,
	last_event_at, ruleset_version, version, created_at, updated_at`

func scanState(row pgx.Row) (rules.GameState, error) {
	var st rules.GameState
	err := row.Scan(&st.UserID, &st.Tokens, &st.XP, &st.Level, &st.Day, &st.TutorialComplete,
		&st.DaysDiversified, &st.LastEventAt, &st.RulesetVersion, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ErrNotFound
	}
	return st, err
}

func (s *PostgresStore) EnsureGameState(ctx context.Context, init rules.GameState) (rules.GameState, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tiny.game_states (user_id, tokens, xp, level, day, ruleset_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, init.UserID, init.Tokens, init.XP, init.Level, init.Day, init.RulesetVersion, init.CreatedAt)
	if err != nil {
		return rules.GameState{}, fmt.Errorf("ensure game state: %w", err)
	}
	return s.GameState(ctx, init.UserID)
}

func (s *PostgresStore) GameState(ctx context.Context, userID string) (rules.GameState, error) {
	return gameStateQ(ctx, s.pool, userID)
}

func gameStateQ(ctx context.Context, q querier, userID string) (rules.GameState, error) {
	st, err := scanState(q.QueryRow(ctx, `SELECT `+stateColumns+` FROM tiny.game_states WHERE user_id = $1`, userID))
	if err != nil {
		return st, fmt.Errorf("game state for %q: %w", userID, err)
	}
	return st, nil
}

func (s *PostgresStore) Holdings(ctx context.Context, userID string) (rules.Holdings, error) {
	return holdingsQ(ctx, s.pool, userID)
}

func holdingsQ(ctx context.Context, q querier, userID string) (rules.Holdings, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, asset, shares, updated_at
		FROM tiny.holdings
		WHERE user_id = $1
		ORDER BY asset
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Holding, error) {
		var h rules.Holding
		var asset string
		err := row.Scan(&h.UserID, &asset, &h.Shares, &h.UpdatedAt)
		h.Asset = rules.AssetID(asset)
		return h, err
	})
}

// order is "ASC" or "DESC"; limit <= 0 means no limit.
func eventsQ(ctx context.Context, q querier, userID, order string, limit int) ([]rules.EventRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, day, name, category, description, token_delta, xp_awarded, combo, impacts, created_at
		FROM tiny.event_records
		WHERE user_id = $1
		ORDER BY created_at `+order+`, day `+order+`
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.EventRecord, error) {
		var e rules.EventRecord
		var category string
		var impacts []byte
		if err := row.Scan(&e.ID, &e.UserID, &e.Day, &e.Name, &category, &e.Description,
			&e.TokenDelta, &e.XPAwarded, &e.Combo, &impacts, &e.CreatedAt); err != nil {
			return e, err
		}
		e.Category = rules.Category(category)
		if len(impacts) > 0 {
			if err := json.Unmarshal(impacts, &e.Impacts); err != nil {
				return e, fmt.Errorf("decode impacts for event %s: %w", e.ID, err)
			}
		}
		return e, nil
	})
}

func transactionsQ(ctx context.Context, q querier, userID, order string, limit int) ([]rules.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, day, type, asset, shares, amount, ownership_percent, created_at
		FROM tiny.transactions
		WHERE user_id = $1
		ORDER BY created_at `+order+`, day `+order+`
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Transaction, error) {
		var tx rules.Transaction
		var typ, asset string
		err := row.Scan(&tx.ID, &tx.UserID, &tx.Day, &typ, &asset, &tx.Shares, &tx.Amount, &tx.OwnershipPercent, &tx.CreatedAt)
		tx.Type = rules.TxType(typ)
		tx.Asset = rules.AssetID(asset)
		return tx, err
	})
}

func productionQ(ctx context.Context, q querier, userID, order string, limit int) ([]rules.ProductionRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, day, asset, shares, tokens, created_at
		FROM tiny.production_records
		WHERE user_id = $1
		ORDER BY id `+order+`
		LIMIT NULLIF($2, 0)
	`, userID, max(limit, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.ProductionRecord, error) {
		var p rules.ProductionRecord
		var asset string
		err := row.Scan(&p.UserID, &p.Day, &asset, &p.Shares, &p.Tokens, &p.CreatedAt)
		p.Asset = rules.AssetID(asset)
		return p, err
	})
}

func badgesQ(ctx context.Context, q querier, userID string) ([]rules.EarnedBadge, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, badge_id, day, earned_at
		FROM tiny.earned_badges
		WHERE user_id = $1
		ORDER BY earned_at, badge_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.EarnedBadge, error) {
		var b rules.EarnedBadge
		err := row.Scan(&b.UserID, &b.BadgeID, &b.Day, &b.EarnedAt)
		return b, err
	})
}

func missionsQ(ctx context.Context, q querier, userID string) ([]rules.MissionProgress, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, id, definition_id, status, day, completed_at, claimed_at
		FROM tiny.mission_progress
		WHERE user_id = $1
		ORDER BY day, id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.MissionProgress, error) {
		var m rules.MissionProgress
		var status string
		err := row.Scan(&m.UserID, &m.ID, &m.DefinitionID, &status, &m.Day, &m.CompletedAt, &m.ClaimedAt)
		m.Status = rules.MissionStatus(status)
		return m, err
	})
}

// Snapshot reads state and full history inside one repeatable-read
// transaction so the pieces agree with each other.
func (s *PostgresStore) Snapshot(ctx context.Context, userID string) (rules.Snapshot, error) {
	var snap rules.Snapshot
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, err
	}
	defer tx.Rollback(ctx)

	if snap.State, err = gameStateQ(ctx, tx, userID); err != nil {
		return snap, err
	}
	if snap.Holdings, err = holdingsQ(ctx, tx, userID); err != nil {
		return snap, fmt.Errorf("load holdings: %w", err)
	}
	if snap.Events, err = eventsQ(ctx, tx, userID, "ASC", 0); err != nil {
		return snap, fmt.Errorf("load events: %w", err)
	}
	if snap.Transactions, err = transactionsQ(ctx, tx, userID, "ASC", 0); err != nil {
		return snap, fmt.Errorf("load transactions: %w", err)
	}
	if snap.Production, err = productionQ(ctx, tx, userID, "ASC", 0); err != nil {
		return snap, fmt.Errorf("load production: %w", err)
	}
	if snap.Badges, err = badgesQ(ctx, tx, userID); err != nil {
		return snap, fmt.Errorf("load badges: %w", err)
	}
	if snap.Missions, err = missionsQ(ctx, tx, userID); err != nil {
		return snap, fmt.Errorf("load missions: %w", err)
	}
	return snap, tx.Commit(ctx)
}

func (s *PostgresStore) EventHistory(ctx context.Context, userID string, limit int) ([]rules.EventRecord, error) {
	return eventsQ(ctx, s.pool, userID, "DESC", limit)
}

func (s *PostgresStore) Transactions(ctx context.Context, userID string, limit int) ([]rules.Transaction, error) {
	return transactionsQ(ctx, s.pool, userID, "DESC", limit)
}

func (s *PostgresStore) Production(ctx context.Context, userID string, limit int) ([]rules.ProductionRecord, error) {
	return productionQ(ctx, s.pool, userID, "DESC", limit)
}

func (s *PostgresStore) Badges(ctx context.Context, userID string) ([]rules.EarnedBadge, error) {
	return badgesQ(ctx, s.pool, userID)
}

func (s *PostgresStore) Missions(ctx context.Context, userID string) ([]rules.MissionProgress, error) {
	return missionsQ(ctx, s.pool, userID)
}

// Commit writes c in one serializable transaction, retrying serialization
// failures with backoff.
func (s *PostgresStore) Commit(ctx context.Context, c Commit) (rules.GameState, error) {
	c.assignIDs()
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		state, err := s.commitOnce(ctx, c)
		if err == nil {
			return state, nil
		}
		if !isSerializationError(err) {
			return rules.GameState{}, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return rules.GameState{}, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return rules.GameState{}, ErrTxConflict
}

func (s *PostgresStore) commitOnce(ctx context.Context, c Commit) (rules.GameState, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return rules.GameState{}, err
	}
	defer tx.Rollback(ctx)

	if c.IdempotencyKey != "" {
		if err := claimIdempotency(ctx, tx, c.UserID, c.IdempotencyKey, c.Action); err != nil {
			return rules.GameState{}, err
		}
	}

	var version int64
	if err := tx.QueryRow(ctx, `
		SELECT version FROM tiny.game_states WHERE user_id = $1 FOR UPDATE
	`, c.UserID).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.GameState{}, fmt.Errorf("game state for %q: %w", c.UserID, ErrNotFound)
		}
		return rules.GameState{}, err
	}
	if version != c.ExpectedVersion {
		return rules.GameState{}, ErrVersionConflict
	}

	st := c.State
	state, err := scanState(tx.QueryRow(ctx, `
		UPDATE tiny.game_states
		SET tokens = $2, xp = $3, level = $4, day = $5, tutorial_complete = $6, days_diversified = $7,
			last_event_at = $8, ruleset_version = $9, version = version + 1, updated_at = $10
		WHERE user_id = $1
		RETURNING `+stateColumns,
		c.UserID, st.Tokens, st.XP, st.Level, st.Day, st.TutorialComplete, st.DaysDiversified,
		st.LastEventAt, st.RulesetVersion, st.UpdatedAt))
	if err != nil {
		return rules.GameState{}, fmt.Errorf("update game state: %w", err)
	}

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM tiny.holdings WHERE user_id = $1`, c.UserID)
	for _, h := range c.Holdings {
		if h.Shares <= 0 {
			continue
		}
		b.Queue(`
			INSERT INTO tiny.holdings (user_id, asset, shares, updated_at) VALUES ($1, $2, $3, $4)
		`, c.UserID, string(h.Asset), h.Shares, h.UpdatedAt)
	}
	for _, t := range c.Transactions {
		b.Queue(`
			INSERT INTO tiny.transactions (id, user_id, day, type, asset, shares, amount, ownership_percent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.ID, c.UserID, t.Day, string(t.Type), string(t.Asset), t.Shares, t.Amount, t.OwnershipPercent, t.CreatedAt)
	}
	for _, e := range c.Events {
		impacts, err := json.Marshal(e.Impacts)
		if err != nil {
			return rules.GameState{}, fmt.Errorf("encode impacts: %w", err)
		}
		b.Queue(`
			INSERT INTO tiny.event_records (id, user_id, day, name, category, description, token_delta, xp_awarded, combo, impacts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
		`, e.ID, c.UserID, e.Day, e.Name, string(e.Category), e.Description, e.TokenDelta, e.XPAwarded, e.Combo, string(impacts), e.CreatedAt)
	}
	for _, p := range c.Production {
		b.Queue(`
			INSERT INTO tiny.production_records (user_id, day, asset, shares, tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.UserID, p.Day, string(p.Asset), p.Shares, p.Tokens, p.CreatedAt)
	}
	for _, bd := range c.Badges {
		b.Queue(`
			INSERT INTO tiny.earned_badges (user_id, badge_id, day, earned_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, badge_id) DO NOTHING
		`, c.UserID, bd.BadgeID, bd.Day, bd.EarnedAt)
	}
	for _, m := range c.Missions {
		b.Queue(`
			INSERT INTO tiny.mission_progress (user_id, id, definition_id, status, day, completed_at, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, id) DO UPDATE
			SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, claimed_at = EXCLUDED.claimed_at
		`, c.UserID, m.ID, m.DefinitionID, string(m.Status), m.Day, m.CompletedAt, m.ClaimedAt)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return rules.GameState{}, fmt.Errorf("write history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rules.GameState{}, err
	}
	return state, nil
}

func (s *PostgresStore) SaveParentPIN(ctx context.Context, userID, hash string, replace bool) error {
	sql := `
		INSERT INTO tiny.parent_access (user_id, pin_hash) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if replace {
		sql = `
			INSERT INTO tiny.parent_access (user_id, pin_hash) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET pin_hash = EXCLUDED.pin_hash, updated_at = now()
		`
	}
	cmd, err := s.pool.Exec(ctx, sql, userID, hash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("game state for %q: %w", userID, ErrNotFound)
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) ParentPINHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT pin_hash FROM tiny.parent_access WHERE user_id = $1`, userID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("parent access for %q: %w", userID, ErrNotFound)
	}
	return hash, err
}

func (s *PostgresStore) PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM tiny.idempotency_keys WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	cmd, err := tx.Exec(ctx, `
		INSERT INTO tiny.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, strings.TrimSpace(key), action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
