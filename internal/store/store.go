// Package store is the persistence gateway for player state and history.
// Implementations must apply a Commit atomically: every row in it becomes
// visible together or none does.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tinyassets/internal/rules"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrVersionConflict      = errors.New("game state changed since it was read")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
	ErrExists               = errors.New("already exists")
)

// Commit carries every write one operation produced.
type Commit struct {
	UserID string
	// ExpectedVersion must match the stored state's version; the stored
	// version becomes ExpectedVersion+1.
	ExpectedVersion int64
	// IdempotencyKey, when set, is recorded in the same commit and a second
	// commit with the same key fails with ErrDuplicateIdempotency.
	IdempotencyKey string
	Action         string

	State rules.GameState
	// Holdings is the full post-commit holding set; absent assets are removed.
	Holdings     rules.Holdings
	Transactions []rules.Transaction
	Events       []rules.EventRecord
	Production   []rules.ProductionRecord
	Badges       []rules.EarnedBadge
	// Missions are upserted by instance id.
	Missions []rules.MissionProgress
}

func (c *Commit) assignIDs() {
	for i := range c.Transactions {
		if c.Transactions[i].ID == "" {
			c.Transactions[i].ID = uuid.NewString()
		}
	}
	for i := range c.Events {
		if c.Events[i].ID == "" {
			c.Events[i].ID = uuid.NewString()
		}
	}
}

// Store is the persistence gateway used by the game service.
//
// History projections (EventHistory, Transactions, Production) return the
// newest rows first; a limit <= 0 returns everything. Snapshot returns full
// history oldest first.
type Store interface {
	// EnsureGameState returns the stored state, creating init when the player
	// has none yet.
	EnsureGameState(ctx context.Context, init rules.GameState) (rules.GameState, error)
	GameState(ctx context.Context, userID string) (rules.GameState, error)
	Holdings(ctx context.Context, userID string) (rules.Holdings, error)
	Snapshot(ctx context.Context, userID string) (rules.Snapshot, error)

	EventHistory(ctx context.Context, userID string, limit int) ([]rules.EventRecord, error)
	Transactions(ctx context.Context, userID string, limit int) ([]rules.Transaction, error)
	Production(ctx context.Context, userID string, limit int) ([]rules.ProductionRecord, error)
	Badges(ctx context.Context, userID string) ([]rules.EarnedBadge, error)
	Missions(ctx context.Context, userID string) ([]rules.MissionProgress, error)

	// Commit applies c atomically and returns the stored state.
	Commit(ctx context.Context, c Commit) (rules.GameState, error)

	// SaveParentPIN stores a PIN hash. Without replace it fails with
	// ErrExists when the player already has one.
	SaveParentPIN(ctx context.Context, userID, hash string, replace bool) error
	ParentPINHash(ctx context.Context, userID string) (string, error)

	// PurgeIdempotencyKeys removes keys recorded before the cutoff.
	PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error)
}

func newestFirst[T any](rows []T, limit int) []T {
	n := len(rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, rows[i])
	}
	return out
}
