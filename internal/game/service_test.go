package game

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

type scripted struct {
	draws []float64
	i     int
}

func (s *scripted) Float64() float64 {
	if s.i >= len(s.draws) {
		return 0.999
	}
	v := s.draws[s.i]
	s.i++
	return v
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st store.Store, draws ...float64) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, rules.Default(), logger,
		WithClock(func() time.Time { return testNow }),
		WithRandomSource(&scripted{draws: draws}),
	)
}

func TestGetGameStateCreatesDefault(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	st, err := svc.GetGameState(context.Background(), "kid")
	if err != nil {
		t.Fatal(err)
	}
	if st.Tokens != 15 || st.XP != 0 || st.Level != 1 || st.Day != 1 {
		t.Fatalf("unexpected default state %+v", st)
	}
	if _, err := svc.GetGameState(context.Background(), " "); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("blank user: %v", err)
	}
}

func TestBuyExecuteAndClaim(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())

	trade, err := svc.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetProperty, Shares: 1, IdempotencyKey: "b1"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if trade.State.Tokens != 10 || trade.State.XP != 10 {
		t.Fatalf("after buy tokens=%d xp=%d", trade.State.Tokens, trade.State.XP)
	}

	out, err := svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Hold(), ExpectedDay: 1, IdempotencyKey: "d1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Event != nil || out.ProductionEarned != 1 || out.State.Tokens != 11 || out.State.Day != 2 {
		t.Fatalf("unexpected day outcome %+v", out)
	}

	res, err := svc.ClaimMission(ctx, ClaimInput{UserID: "kid", MissionID: "first-share", IdempotencyKey: "c1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.TokensAwarded != 5 || res.XPAwarded != 10 || res.State.Tokens != 16 || res.State.XP != 20 {
		t.Fatalf("claim result %+v", res)
	}
	if _, err := svc.ClaimMission(ctx, ClaimInput{UserID: "kid", MissionID: "first-share", IdempotencyKey: "c2"}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: %v", err)
	}
	if _, err := svc.ClaimMission(ctx, ClaimInput{UserID: "kid", MissionID: "portfolio-master", IdempotencyKey: "c3"}); !errors.Is(err, ErrMissionNotCompleted) {
		t.Fatalf("incomplete mission: %v", err)
	}
	if _, err := svc.ClaimMission(ctx, ClaimInput{UserID: "kid", MissionID: "nope", IdempotencyKey: "c4"}); !errors.Is(err, ErrMissionNotFound) {
		t.Fatalf("unknown mission: %v", err)
	}

	st, _ := svc.GetGameState(ctx, "kid")
	if st.Tokens != 16 {
		t.Fatalf("reward paid twice: tokens=%d", st.Tokens)
	}
	prod, _ := svc.ProductionHistory(ctx, "kid", 10)
	if len(prod) != 1 || prod[0].Tokens != 1 {
		t.Fatalf("production history %+v", prod)
	}
	badges, _ := svc.EarnedBadges(ctx, "kid")
	if len(badges) != 1 || badges[0].ID != "first-steps" || badges[0].Name == "" {
		t.Fatalf("badges %+v", badges)
	}
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	in := TradeInput{UserID: "kid", Asset: rules.AssetSolar, Shares: 1, IdempotencyKey: "same"}
	if _, err := svc.BuyShares(ctx, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.BuyShares(ctx, in); !errors.Is(err, ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	st, _ := svc.GetGameState(ctx, "kid")
	if st.Tokens != 10 {
		t.Fatalf("charged twice: tokens=%d", st.Tokens)
	}
}

func TestExecuteDayStaleExpectedDay(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	if _, err := svc.SkipDay(ctx, DayRequest{UserID: "kid", ExpectedDay: 1, IdempotencyKey: "d1"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Hold(), ExpectedDay: 1, IdempotencyKey: "d2"})
	if !errors.Is(err, ErrDayAlreadyExecuted) {
		t.Fatalf("expected day already executed, got %v", err)
	}
	_, err = svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Hold(), ExpectedDay: 9, IdempotencyKey: "d3"})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("future day: %v", err)
	}
}

func TestBuyShortfall(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	_, err := svc.BuyShares(context.Background(), TradeInput{UserID: "kid", Asset: rules.AssetGold, Shares: 2, IdempotencyKey: "g"})
	if !errors.Is(err, rules.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var se *rules.ShortfallError
	if !errors.As(err, &se) || se.Requested != 20 || se.Available != 15 {
		t.Fatalf("shortfall detail: %+v", se)
	}
}

func TestCrisisDayWithGold(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore(), 0.1, 0.99, 0)
	if _, err := svc.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetGold, Shares: 1, IdempotencyKey: "g1"}); err != nil {
		t.Fatal(err)
	}
	out, err := svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Hold(), IdempotencyKey: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Event == nil || out.Event.Event.Name != "Market Crash" || out.Event.TokenDelta != 4 {
		t.Fatalf("event %+v", out.Event)
	}
	if out.State.Tokens != 9 || out.State.XP != 40 {
		t.Fatalf("tokens=%d xp=%d", out.State.Tokens, out.State.XP)
	}
	events, _ := svc.EventHistory(ctx, "kid", 5)
	if len(events) != 1 || events[0].Name != "Market Crash" || !events[0].Affected(rules.AssetGold) {
		t.Fatalf("event history %+v", events)
	}
	st, _ := svc.GetGameState(ctx, "kid")
	if st.LastEventAt == nil || !st.LastEventAt.Equal(testNow) {
		t.Fatalf("last event time not stored: %+v", st.LastEventAt)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) Commit(context.Context, store.Commit) (rules.GameState, error) {
	return rules.GameState{}, errors.New("disk full")
}

func TestFailedCommitLeavesNoPartialDay(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seed := newTestService(t, mem)
	if _, err := seed.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetProperty, Shares: 2, IdempotencyKey: "b"}); err != nil {
		t.Fatal(err)
	}

	svc := newTestService(t, failingStore{mem}, 0, 0.5, 0)
	if _, err := svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Hold(), IdempotencyKey: "d"}); err == nil {
		t.Fatal("expected commit failure")
	}
	snap, _ := mem.Snapshot(ctx, "kid")
	if snap.State.Day != 1 || snap.State.Tokens != 5 || len(snap.Production) != 0 || len(snap.Events) != 0 {
		t.Fatalf("partial day persisted: %+v", snap)
	}
}

func TestCompleteTutorialUnlocksDetective(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	res, err := svc.CompleteTutorial(ctx, "kid", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.State.TutorialComplete || len(res.Unlocks.Missions) != 1 || res.Unlocks.Missions[0].ID != "asset-detective" {
		t.Fatalf("tutorial result %+v", res)
	}
	again, err := svc.CompleteTutorial(ctx, "kid", "t2")
	if err != nil || again.State.Version != res.State.Version {
		t.Fatalf("second completion should be a no-op: %v", err)
	}
}

func TestMissionsListShowsLocksAndProgress(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	if _, err := svc.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetProperty, Shares: 1, IdempotencyKey: "b"}); err != nil {
		t.Fatal(err)
	}
	views, err := svc.Missions(ctx, "kid")
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]string{}
	for _, v := range views {
		status[v.ID] = v.Status
	}
	if status["first-share"] != string(rules.MissionCompleted) {
		t.Fatalf("first-share: %q", status["first-share"])
	}
	if status["scale-up"] != MissionInProgress || status["efficiency-king"] != MissionLocked {
		t.Fatalf("statuses %+v", status)
	}
}

func TestPortfolioAndWinStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	if _, err := svc.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetGold, Shares: 1, IdempotencyKey: "g"}); err != nil {
		t.Fatal(err)
	}
	p, err := svc.Portfolio(ctx, "kid")
	if err != nil {
		t.Fatal(err)
	}
	if p.CrisisProtection != 4 || p.Tokens != 5 || len(p.Holdings) != 1 || p.Holdings[0].OwnershipPercent != 25 {
		t.Fatalf("portfolio %+v", p)
	}
	if p.NextLevelXP != 50 || p.BadgesEarned != 1 {
		t.Fatalf("progress fields %+v", p)
	}
	ws, err := svc.WinStatus(ctx, "kid")
	if err != nil || ws.Won {
		t.Fatalf("win status %+v %v", ws, err)
	}
}

func TestParentAccess(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	access, err := svc.SetupParentAccess(ctx, "kid")
	if err != nil {
		t.Fatal(err)
	}
	if len(access.PIN) != 4 {
		t.Fatalf("pin %q", access.PIN)
	}
	if _, err := svc.SetupParentAccess(ctx, "kid"); !errors.Is(err, ErrParentAccessExists) {
		t.Fatalf("second setup: %v", err)
	}
	if _, err := svc.ParentProfile(ctx, "kid", access.PIN); err != nil {
		t.Fatalf("profile: %v", err)
	}

	rotated, err := svc.RotateParentPIN(ctx, "kid")
	if err != nil {
		t.Fatal(err)
	}
	if rotated.PIN != access.PIN {
		if _, err := svc.ParentProfile(ctx, "kid", access.PIN); !errors.Is(err, ErrParentAccessDenied) {
			t.Fatalf("old pin should be rejected: %v", err)
		}
	}
	if _, err := svc.ParentProfile(ctx, "kid", rotated.PIN); err != nil {
		t.Fatalf("rotated pin: %v", err)
	}
	if _, err := svc.RotateParentPIN(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rotate without setup: %v", err)
	}
}

func TestReplaySync(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryStore())
	results, err := svc.ReplaySync(ctx, "kid", []ReplayCommand{
		{Kind: ReplayBuy, Asset: rules.AssetSolar, Shares: 1, IdempotencyKey: "q1"},
		{Kind: ReplayBuy, Asset: rules.AssetSolar, Shares: 1, IdempotencyKey: "q1"},
		{Kind: ReplaySkip, ExpectedDay: 1, IdempotencyKey: "q2"},
		{Kind: ReplaySell, Asset: rules.AssetGold, Shares: 1, IdempotencyKey: "q3"},
		{Kind: "dance", IdempotencyKey: "q4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ReplayApplied, ReplayDuplicate, ReplayApplied, ReplayRejected, ReplayRejected}
	for i, r := range results {
		if r.Status != want[i] {
			t.Fatalf("command %d: status %q want %q (%s)", i, r.Status, want[i], r.Error)
		}
	}
	st, _ := svc.GetGameState(ctx, "kid")
	if st.Day != 2 || st.Tokens != 10 {
		t.Fatalf("state after replay %+v", st)
	}
}

type recorder struct {
	days, trades, claims int
}

func (r *recorder) DayExecuted(rules.DayOutcome)  { r.days++ }
func (r *recorder) TradeApplied(rules.Transaction) { r.trades++ }
func (r *recorder) Unlocked(rules.Unlocks)         {}
func (r *recorder) MissionClaimed(string)          { r.claims++ }

func TestRecorderSeesCommittedWork(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	svc := NewService(store.NewMemoryStore(), nil, nil, WithRecorder(rec), WithSeed(42))
	if _, err := svc.BuyShares(ctx, TradeInput{UserID: "kid", Asset: rules.AssetProperty, Shares: 1, IdempotencyKey: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ExecuteDay(ctx, DayRequest{UserID: "kid", Action: rules.Action{Type: rules.ActionBuy, Asset: rules.AssetSolar, Shares: 1}, IdempotencyKey: "d"}); err != nil {
		t.Fatal(err)
	}
	if rec.days != 1 || rec.trades != 2 {
		t.Fatalf("recorder %+v", rec)
	}
}
