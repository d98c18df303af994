package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"tinyassets/internal/db"
	"tinyassets/internal/rules"
)

// Runs only against a disposable database, e.g.
// TINYASSETS_TEST_DATABASE_URL=postgres://localhost/tinyassets_test
func TestPostgresCommitRoundTrip(t *testing.T) {
	url := os.Getenv("TINYASSETS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TINYASSETS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := NewPostgresStore(pool)
	if err := s.ApplySchema(ctx); err != nil {
		t.Fatal(err)
	}
	userID := "test-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	st, err := s.EnsureGameState(ctx, rules.Default().NewGameState(userID, now))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	next := st
	next.Tokens = 10
	next.Day = 2
	c := Commit{
		UserID:          userID,
		ExpectedVersion: st.Version,
		IdempotencyKey:  uuid.NewString(),
		Action:          "day",
		State:           next,
		Holdings:        rules.Holdings{{UserID: userID, Asset: rules.AssetProperty, Shares: 1, UpdatedAt: now}},
		Transactions:    []rules.Transaction{{Day: 1, Type: rules.TxBuy, Asset: rules.AssetProperty, Shares: 1, Amount: 5, OwnershipPercent: 25, CreatedAt: now}},
		Events: []rules.EventRecord{{
			Day: 1, Name: "Housing Boom", Category: rules.CategoryEconomic, TokenDelta: 1, XPAwarded: 20, Combo: 1,
			Impacts: []rules.AssetImpact{{Asset: rules.AssetProperty, Shares: 1, Tokens: 1, XP: 20}}, CreatedAt: now,
		}},
		Production: []rules.ProductionRecord{{Day: 1, Asset: rules.AssetProperty, Shares: 1, Tokens: 1, CreatedAt: now}},
		Badges:     []rules.EarnedBadge{{BadgeID: "first-steps", Day: 1, EarnedAt: now}},
		Missions:   []rules.MissionProgress{{ID: "first-share", DefinitionID: "first-share", Status: rules.MissionCompleted, Day: 1, CompletedAt: &now}},
	}
	got, err := s.Commit(ctx, c)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got.Version != st.Version+1 || got.Tokens != 10 || got.Day != 2 {
		t.Fatalf("unexpected state: %+v", got)
	}
	if _, err := s.Commit(ctx, c); !errors.Is(err, ErrDuplicateIdempotency) {
		t.Fatalf("replay: %v", err)
	}

	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Holdings.Shares(rules.AssetProperty) != 1 || len(snap.Events) != 1 || !snap.Events[0].Affected(rules.AssetProperty) {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	if len(snap.Missions) != 1 || len(snap.Badges) != 1 || len(snap.Production) != 1 || len(snap.Transactions) != 1 {
		t.Fatalf("history rows missing: %+v", snap)
	}
}
