package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tinyassets/internal/rules"
	"tinyassets/internal/store"
)

func TestPurgeFreesExpiredKeys(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	state, err := st.EnsureGameState(ctx, rules.GameState{UserID: "kid", Tokens: 15, Level: 1, Day: 1})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	commit := func(version int64) (rules.GameState, error) {
		return st.Commit(ctx, store.Commit{UserID: "kid", ExpectedVersion: version, IdempotencyKey: "k1", Action: "skip", State: state})
	}
	next, err := commit(state.Version)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if _, err := commit(next.Version); !errors.Is(err, store.ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate before purge, got %v", err)
	}

	// A long retention keeps the fresh key.
	if err := purge(ctx, st, time.Hour, logger); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := commit(next.Version); !errors.Is(err, store.ErrDuplicateIdempotency) {
		t.Fatalf("key purged too early: %v", err)
	}

	if err := purge(ctx, st, -time.Minute, logger); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := commit(next.Version); err != nil {
		t.Fatalf("key should be reusable after purge: %v", err)
	}
}
