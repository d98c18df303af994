package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tinyassets/internal/rules"
	"tinyassets/internal/store"
)

// Recorder receives gameplay counters. internal/metrics implements it.
type Recorder interface {
	DayExecuted(out rules.DayOutcome)
	TradeApplied(tx rules.Transaction)
	Unlocked(u rules.Unlocks)
	MissionClaimed(definitionID string)
}

// Notifier pushes committed results to a player's live feed.
type Notifier interface {
	Publish(userID, kind string, payload any)
}

type nopRecorder struct{}

func (nopRecorder) DayExecuted(rules.DayOutcome)  {}
func (nopRecorder) TradeApplied(rules.Transaction) {}
func (nopRecorder) Unlocked(rules.Unlocks)         {}
func (nopRecorder) MissionClaimed(string)          {}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, any) {}

type Service struct {
	store   store.Store
	rules   *rules.Ruleset
	log     *slog.Logger
	now     func() time.Time
	metrics Recorder
	notify  Notifier

	mu   sync.Mutex
	rand rules.RandomSource
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeed makes event rolls reproducible; zero keeps the time-based seed.
func WithSeed(seed int64) Option {
	return func(s *Service) {
		if seed != 0 {
			s.rand = mathrand.New(mathrand.NewSource(seed))
		}
	}
}

func WithRandomSource(src rules.RandomSource) Option {
	return func(s *Service) { s.rand = src }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

func NewService(st store.Store, rs *rules.Ruleset, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rs == nil {
		rs = rules.Default()
	}
	s := &Service{
		store:   st,
		rules:   rs,
		log:     logger,
		now:     time.Now,
		metrics: nopRecorder{},
		notify:  nopNotifier{},
		rand:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Rules() *rules.Ruleset { return s.rules }

// Float64 serializes access to the shared random source so the service can
// be handed to the engine as its RandomSource.
func (s *Service) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// GetGameState returns the player's state, creating the default one on first
// sight.
func (s *Service) GetGameState(ctx context.Context, userID string) (rules.GameState, error) {
	if err := validateUserID(userID); err != nil {
		return rules.GameState{}, err
	}
	st, err := s.store.EnsureGameState(ctx, s.rules.NewGameState(userID, s.now()))
	if err != nil {
		return rules.GameState{}, fmt.Errorf("load game state: %w", err)
	}
	return st, nil
}

func (s *Service) GetHoldings(ctx context.Context, userID string) ([]HoldingView, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return nil, err
	}
	h, err := s.store.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	return s.holdingViews(h), nil
}

func (s *Service) holdingViews(h rules.Holdings) []HoldingView {
	out := make([]HoldingView, 0, len(h))
	for _, a := range s.rules.Assets {
		shares := h.Shares(a.ID)
		if shares <= 0 {
			continue
		}
		sale, _ := s.rules.SaleReturn(a.ID, shares)
		out = append(out, HoldingView{
			Asset:            a.ID,
			Name:             a.Name,
			Emoji:            a.Emoji,
			Shares:           shares,
			OwnershipPercent: s.rules.OwnershipPercent(shares),
			DailyProduction:  s.rules.DailyProduction(a.ID, shares),
			SaleValue:        sale,
		})
	}
	return out
}

func (s *Service) snapshot(ctx context.Context, userID string) (rules.Snapshot, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return rules.Snapshot{}, err
	}
	snap, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) BuyShares(ctx context.Context, in TradeInput) (rules.TradeOutcome, error) {
	return s.trade(ctx, in, rules.ActionBuy)
}

func (s *Service) SellShares(ctx context.Context, in TradeInput) (rules.TradeOutcome, error) {
	return s.trade(ctx, in, rules.ActionSell)
}

func (s *Service) trade(ctx context.Context, in TradeInput, kind rules.ActionType) (rules.TradeOutcome, error) {
	snap, err := s.snapshot(ctx, in.UserID)
	if err != nil {
		return rules.TradeOutcome{}, err
	}
	now := s.now()
	out, err := s.rules.Trade(snap, rules.Action{Type: kind, Asset: in.Asset, Shares: in.Shares}, now)
	if err != nil {
		return rules.TradeOutcome{}, err
	}
	st, err := s.commit(ctx, store.Commit{
		UserID:          in.UserID,
		ExpectedVersion: snap.State.Version,
		IdempotencyKey:  in.IdempotencyKey,
		Action:          string(kind),
		State:           out.State,
		Holdings:        out.Holdings,
		Transactions:    []rules.Transaction{out.Transaction},
		Badges:          earnedBadges(in.UserID, out.State.Day, out.Unlocks, now),
		Missions:        out.Unlocks.Missions,
	})
	if err != nil {
		return rules.TradeOutcome{}, err
	}
	out.State = st

	s.metrics.TradeApplied(out.Transaction)
	s.metrics.Unlocked(out.Unlocks)
	s.notify.Publish(in.UserID, "trade", out)
	s.log.Info("trade applied", "user_id", in.UserID, "type", kind, "asset", out.Transaction.Asset, "shares", out.Transaction.Shares, "tokens", st.Tokens)
	return out, nil
}

// ExecuteDay runs the player's current day and persists every effect in one
// commit. Nothing is written when any step fails.
func (s *Service) ExecuteDay(ctx context.Context, in DayRequest) (rules.DayOutcome, error) {
	snap, err := s.snapshot(ctx, in.UserID)
	if err != nil {
		return rules.DayOutcome{}, err
	}
	if in.ExpectedDay > 0 && in.ExpectedDay != snap.State.Day {
		if in.ExpectedDay < snap.State.Day {
			return rules.DayOutcome{}, fmt.Errorf("%w: day %d is done, current day is %d", ErrDayAlreadyExecuted, in.ExpectedDay, snap.State.Day)
		}
		return rules.DayOutcome{}, fmt.Errorf("%w: day %d has not started, current day is %d", ErrStateConflict, in.ExpectedDay, snap.State.Day)
	}

	now := s.now()
	out, err := s.rules.ExecuteDay(rules.DayInput{
		Snapshot: snap,
		Action:   in.Action,
		Now:      now,
		Rand:     s,
	})
	if err != nil {
		return rules.DayOutcome{}, err
	}

	c := store.Commit{
		UserID:          in.UserID,
		ExpectedVersion: snap.State.Version,
		IdempotencyKey:  in.IdempotencyKey,
		Action:          "day",
		State:           out.State,
		Holdings:        out.Holdings,
		Production:      out.Production,
		Badges:          earnedBadges(in.UserID, out.Day, out.Unlocks, now),
		Missions:        out.Unlocks.Missions,
	}
	if out.Transaction != nil {
		c.Transactions = []rules.Transaction{*out.Transaction}
	}
	if out.EventRecord != nil {
		c.Events = []rules.EventRecord{*out.EventRecord}
	}
	st, err := s.commit(ctx, c)
	if errors.Is(err, ErrStateConflict) {
		return rules.DayOutcome{}, fmt.Errorf("%w: %w", ErrDayAlreadyExecuted, err)
	}
	if err != nil {
		return rules.DayOutcome{}, err
	}
	out.State = st

	s.metrics.DayExecuted(out)
	s.metrics.Unlocked(out.Unlocks)
	if out.Transaction != nil {
		s.metrics.TradeApplied(*out.Transaction)
	}
	s.notify.Publish(in.UserID, "day", out)

	attrs := []any{"user_id", in.UserID, "day", out.Day, "action", out.Action.Type, "produced", out.ProductionEarned, "tokens", st.Tokens, "level", st.Level}
	if out.Event != nil {
		attrs = append(attrs, "event", out.Event.Event.Name, "combo", out.Combo)
	}
	s.log.Info("day executed", attrs...)
	return out, nil
}

// SkipDay executes the current day with a hold action.
func (s *Service) SkipDay(ctx context.Context, in DayRequest) (rules.DayOutcome, error) {
	in.Action = rules.Hold()
	return s.ExecuteDay(ctx, in)
}

// ClaimMission moves a completed mission to claimed and pays its reward.
func (s *Service) ClaimMission(ctx context.Context, in ClaimInput) (ClaimResult, error) {
	snap, err := s.snapshot(ctx, in.UserID)
	if err != nil {
		return ClaimResult{}, err
	}
	i := slices.IndexFunc(snap.Missions, func(m rules.MissionProgress) bool { return m.ID == in.MissionID })
	if i < 0 {
		if def, ok := s.rules.Definition(in.MissionID); ok && def.Kind == rules.KindMission {
			return ClaimResult{}, fmt.Errorf("%w: %s", ErrMissionNotCompleted, in.MissionID)
		}
		return ClaimResult{}, fmt.Errorf("%w: %s", ErrMissionNotFound, in.MissionID)
	}
	m := snap.Missions[i]
	switch m.Status {
	case rules.MissionClaimed:
		return ClaimResult{}, fmt.Errorf("%w: %s", ErrAlreadyClaimed, in.MissionID)
	case rules.MissionCompleted:
	default:
		return ClaimResult{}, fmt.Errorf("%w: %s", ErrMissionNotCompleted, in.MissionID)
	}
	def, ok := s.rules.Definition(m.DefinitionID)
	if !ok {
		return ClaimResult{}, fmt.Errorf("%w: definition %s", ErrMissionNotFound, m.DefinitionID)
	}

	now := s.now()
	state := snap.State
	startXP := state.XP
	state.Tokens += def.RewardTokens
	state.XP += def.RewardXP
	state.Level = s.rules.LevelFromXP(state.XP)
	state.UpdatedAt = now
	claimedAt := now
	m.Status = rules.MissionClaimed
	m.ClaimedAt = &claimedAt

	snap.State = state
	snap.Missions = slices.Clone(snap.Missions)
	snap.Missions[i] = m
	unlocks := s.rules.EvaluateAchievements(snap, now)
	state.XP += unlocks.BadgeXP
	state.Level = s.rules.LevelFromXP(state.XP)

	st, err := s.commit(ctx, store.Commit{
		UserID:          in.UserID,
		ExpectedVersion: snap.State.Version,
		IdempotencyKey:  in.IdempotencyKey,
		Action:          "claim",
		State:           state,
		Holdings:        snap.Holdings,
		Badges:          earnedBadges(in.UserID, state.Day, unlocks, now),
		Missions:        append([]rules.MissionProgress{m}, unlocks.Missions...),
	})
	if errors.Is(err, ErrStateConflict) {
		return ClaimResult{}, fmt.Errorf("%w: %w", ErrAlreadyClaimed, err)
	}
	if err != nil {
		return ClaimResult{}, err
	}

	out := ClaimResult{
		MissionID:     m.ID,
		TokensAwarded: def.RewardTokens,
		XPAwarded:     def.RewardXP,
		XP:            s.rules.AddXP(startXP, st.XP-startXP),
		Unlocks:       unlocks,
		State:         st,
	}
	s.metrics.MissionClaimed(def.ID)
	s.metrics.Unlocked(unlocks)
	s.notify.Publish(in.UserID, "claim", out)
	s.log.Info("mission claimed", "user_id", in.UserID, "mission", m.ID, "tokens", def.RewardTokens, "xp", def.RewardXP)
	return out, nil
}

// CompleteTutorial flags the tutorial as done and evaluates achievements
// right away. Calling it again is a no-op.
func (s *Service) CompleteTutorial(ctx context.Context, userID, idempotencyKey string) (ProgressResult, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return ProgressResult{}, err
	}
	if snap.State.TutorialComplete {
		return ProgressResult{State: snap.State, XP: s.rules.AddXP(snap.State.XP, 0)}, nil
	}
	now := s.now()
	state := snap.State
	startXP := state.XP
	state.TutorialComplete = true
	state.UpdatedAt = now
	snap.State = state
	unlocks := s.rules.EvaluateAchievements(snap, now)
	state.XP += unlocks.BadgeXP
	state.Level = s.rules.LevelFromXP(state.XP)

	st, err := s.commit(ctx, store.Commit{
		UserID:          userID,
		ExpectedVersion: snap.State.Version,
		IdempotencyKey:  idempotencyKey,
		Action:          "tutorial",
		State:           state,
		Holdings:        snap.Holdings,
		Badges:          earnedBadges(userID, state.Day, unlocks, now),
		Missions:        unlocks.Missions,
	})
	if err != nil {
		return ProgressResult{}, err
	}
	s.metrics.Unlocked(unlocks)
	return ProgressResult{State: st, Unlocks: unlocks, XP: s.rules.AddXP(startXP, st.XP-startXP)}, nil
}

func (s *Service) EventHistory(ctx context.Context, userID string, limit int) ([]rules.EventRecord, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.EventHistory(ctx, userID, clampLimit(limit))
}

func (s *Service) TransactionHistory(ctx context.Context, userID string, limit int) ([]rules.Transaction, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Transactions(ctx, userID, clampLimit(limit))
}

func (s *Service) ProductionHistory(ctx context.Context, userID string, limit int) ([]rules.ProductionRecord, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.Production(ctx, userID, clampLimit(limit))
}

func (s *Service) EarnedBadges(ctx context.Context, userID string) ([]BadgeView, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.store.Badges(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]BadgeView, 0, len(rows))
	for _, b := range rows {
		v := BadgeView{ID: b.BadgeID, Name: b.BadgeID, Day: b.Day, EarnedAt: b.EarnedAt}
		if def, ok := s.rules.Definition(b.BadgeID); ok {
			v.Name, v.Emoji, v.Description, v.RewardXP = def.Name, def.Emoji, def.Description, def.RewardXP
		}
		out = append(out, v)
	}
	return out, nil
}

// Missions lists every regular mission with the player's progress, today's
// daily mission, and any earlier daily mission still waiting to be claimed.
func (s *Service) Missions(ctx context.Context, userID string) ([]MissionView, error) {
	st, err := s.GetGameState(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Missions(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]rules.MissionProgress, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
	}

	out := make([]MissionView, 0, len(s.rules.Missions)+2)
	for _, def := range s.rules.Missions {
		out = append(out, missionView(def, def.ID, st.Level, byID))
	}
	todayID := ""
	if def, ok := s.rules.DailyMissionFor(st.Day, st.Level); ok {
		todayID = rules.DailyMissionInstanceID(def.ID, st.Day)
		v := missionView(def, todayID, st.Level, byID)
		v.Day = st.Day
		out = append(out, v)
	}
	for _, m := range rows {
		if m.ID == todayID || m.Status != rules.MissionCompleted {
			continue
		}
		def, ok := s.rules.Definition(m.DefinitionID)
		if !ok || def.Kind != rules.KindDailyMission {
			continue
		}
		out = append(out, missionView(def, m.ID, st.Level, byID))
	}
	return out, nil
}

func missionView(def rules.Definition, id string, level int, progress map[string]rules.MissionProgress) MissionView {
	v := MissionView{
		ID:           id,
		DefinitionID: def.ID,
		Name:         def.Name,
		Emoji:        def.Emoji,
		Description:  def.Description,
		Kind:         def.Kind,
		MinLevel:     def.MinLevel,
		RewardTokens: def.RewardTokens,
		RewardXP:     def.RewardXP,
		Status:       MissionInProgress,
	}
	if m, ok := progress[id]; ok {
		v.Status = string(m.Status)
		v.Day = m.Day
		v.CompletedAt = m.CompletedAt
		v.ClaimedAt = m.ClaimedAt
	} else if def.MinLevel > level {
		v.Status = MissionLocked
	}
	return v
}

func (s *Service) WinStatus(ctx context.Context, userID string) (rules.WinStatus, error) {
	st, err := s.GetGameState(ctx, userID)
	if err != nil {
		return rules.WinStatus{}, err
	}
	h, err := s.store.Holdings(ctx, userID)
	if err != nil {
		return rules.WinStatus{}, err
	}
	return s.rules.CheckWin(st, h), nil
}

// Indicators draws the morning forecast for the current day. It is
// presentational and has no effect on which event fires.
func (s *Service) Indicators(ctx context.Context, userID string) (IndicatorsView, error) {
	st, err := s.GetGameState(ctx, userID)
	if err != nil {
		return IndicatorsView{}, err
	}
	return IndicatorsView{
		Day:                st.Day,
		EventChancePercent: s.rules.EventChance(st.Day).Mul(decimal.NewFromInt(100)).IntPart(),
		Indicators:         s.rules.MorningIndicators(s),
	}, nil
}

func (s *Service) Portfolio(ctx context.Context, userID string) (Portfolio, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}
	return s.portfolio(snap), nil
}

func (s *Service) portfolio(snap rules.Snapshot) Portfolio {
	st := snap.State
	p := Portfolio{
		UserID:              st.UserID,
		Tokens:              st.Tokens,
		XP:                  st.XP,
		Level:               st.Level,
		Day:                 st.Day,
		Holdings:            s.holdingViews(snap.Holdings),
		DailyProductionRate: s.rules.PortfolioProduction(snap.Holdings),
		BadgesEarned:        len(snap.Badges),
		EventsSeen:          len(snap.Events),
		Win:                 s.rules.CheckWin(st, snap.Holdings),
		RulesetVersion:      s.rules.Version,
	}
	if next, ok := s.rules.NextLevel(st.Level); ok {
		p.NextLevelXP = next.XP
	}
	for _, r := range snap.Production {
		p.TotalProductionEarned += r.Tokens
	}
	for _, a := range s.rules.Assets {
		if a.Hedge == nil {
			continue
		}
		shares := decimal.NewFromInt(int64(snap.Holdings.Shares(a.ID)))
		p.CrisisProtection += a.Hedge.CrisisPerShare.Mul(shares).Floor().IntPart()
	}
	for _, m := range snap.Missions {
		switch m.Status {
		case rules.MissionCompleted:
			p.MissionsCompleted++
		case rules.MissionClaimed:
			p.MissionsCompleted++
			p.MissionsClaimed++
		}
	}
	return p
}

func (s *Service) commit(ctx context.Context, c store.Commit) (rules.GameState, error) {
	st, err := s.store.Commit(ctx, c)
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, store.ErrVersionConflict):
		return rules.GameState{}, fmt.Errorf("%w: %w", ErrStateConflict, err)
	case errors.Is(err, store.ErrDuplicateIdempotency), errors.Is(err, store.ErrTxConflict):
		return rules.GameState{}, err
	default:
		return rules.GameState{}, fmt.Errorf("commit %s: %w", c.Action, err)
	}
}

func earnedBadges(userID string, day int, u rules.Unlocks, now time.Time) []rules.EarnedBadge {
	if len(u.Badges) == 0 {
		return nil
	}
	out := make([]rules.EarnedBadge, 0, len(u.Badges))
	for _, def := range u.Badges {
		out = append(out, rules.EarnedBadge{UserID: userID, BadgeID: def.ID, Day: day, EarnedAt: now})
	}
	return out
}
