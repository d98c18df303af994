package rules

import (
	"errors"
	"fmt"
	"time"
)

type DefinitionKind string

const (
	KindBadge        DefinitionKind = "badge"
	KindMission      DefinitionKind = "mission"
	KindDailyMission DefinitionKind = "daily_mission"
)

// Definition is a badge or mission: display data, rewards and the predicate
// that unlocks it. Badges pay RewardXP on unlock; missions pay both rewards on
// claim.
type Definition struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	Emoji        string         `yaml:"emoji,omitempty" json:"emoji,omitempty"`
	Description  string         `yaml:"description" json:"description"`
	Kind         DefinitionKind `yaml:"-" json:"kind"`
	MinLevel     int            `yaml:"min_level,omitempty" json:"min_level,omitempty"`
	RewardTokens int64          `yaml:"reward_tokens,omitempty" json:"reward_tokens"`
	RewardXP     int64          `yaml:"reward_xp,omitempty" json:"reward_xp"`
	When         Predicate      `yaml:"when" json:"when"`
}

type PredicateKind string

const (
	PredSharesAtLeast           PredicateKind = "shares_at_least"
	PredDistinctAssetsAtLeast   PredicateKind = "distinct_assets_at_least"
	PredEventsAtLeast           PredicateKind = "events_at_least"
	PredHedgedEventsAtLeast     PredicateKind = "hedged_events_at_least"
	PredSellsAtLeast            PredicateKind = "sells_at_least"
	PredTokensAtLeast           PredicateKind = "tokens_at_least"
	PredLevelAtLeast            PredicateKind = "level_at_least"
	PredProductionEarnedAtLeast PredicateKind = "production_earned_at_least"
	PredDailyProductionAtLeast  PredicateKind = "daily_production_at_least"
	PredDiversifiedDaysAtLeast  PredicateKind = "diversified_days_at_least"
	PredTutorialComplete        PredicateKind = "tutorial_complete"
	PredNoSellsForDays          PredicateKind = "no_sells_for_days"
	PredBoughtToday             PredicateKind = "bought_today"
	PredProducedTodayAtLeast    PredicateKind = "produced_today_at_least"
	PredAllOf                   PredicateKind = "all_of"
)

// Scopes for shares_at_least when no single asset is named.
const (
	ScopeAny = "any"
	ScopeAll = "all"
)

// Predicate is a serializable condition. Kind selects one of a closed set of
// checks; the other fields parameterize it.
type Predicate struct {
	Kind      PredicateKind `yaml:"kind" json:"kind"`
	Asset     AssetID       `yaml:"asset,omitempty" json:"asset,omitempty"`
	Scope     string        `yaml:"scope,omitempty" json:"scope,omitempty"`
	Category  Category      `yaml:"category,omitempty" json:"category,omitempty"`
	Threshold int64         `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	All       []Predicate   `yaml:"all,omitempty" json:"all,omitempty"`
}

type predicateFunc func(rs *Ruleset, p Predicate, s *Snapshot) bool

var predicates = map[PredicateKind]predicateFunc{
	PredSharesAtLeast: func(rs *Ruleset, p Predicate, s *Snapshot) bool {
		if p.Asset != "" {
			return int64(s.Holdings.Shares(p.Asset)) >= p.Threshold
		}
		if p.Scope == ScopeAll {
			for _, a := range rs.Assets {
				if int64(s.Holdings.Shares(a.ID)) < p.Threshold {
					return false
				}
			}
			return true
		}
		for _, h := range s.Holdings {
			if int64(h.Shares) >= p.Threshold {
				return true
			}
		}
		return false
	},
	PredDistinctAssetsAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		var n int64
		for _, h := range s.Holdings {
			if h.Shares > 0 {
				n++
			}
		}
		return n >= p.Threshold
	},
	PredEventsAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		var n int64
		for _, e := range s.Events {
			if p.Category == "" || e.Category == p.Category {
				n++
			}
		}
		return n >= p.Threshold
	},
	PredHedgedEventsAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		var n int64
		for _, e := range s.Events {
			if (p.Category == "" || e.Category == p.Category) && e.Affected(p.Asset) {
				n++
			}
		}
		return n >= p.Threshold
	},
	PredSellsAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		var n int64
		for _, tx := range s.Transactions {
			if tx.Type == TxSell {
				n++
			}
		}
		return n >= p.Threshold
	},
	PredTokensAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		return s.State.Tokens >= p.Threshold
	},
	PredLevelAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		return int64(s.State.Level) >= p.Threshold
	},
	PredProductionEarnedAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		var total int64
		for _, row := range s.Production {
			total += row.Tokens
		}
		return total >= p.Threshold
	},
	PredDailyProductionAtLeast: func(rs *Ruleset, p Predicate, s *Snapshot) bool {
		return rs.PortfolioProduction(s.Holdings) >= p.Threshold
	},
	PredDiversifiedDaysAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		return int64(s.State.DaysDiversified) >= p.Threshold
	},
	PredTutorialComplete: func(_ *Ruleset, _ Predicate, s *Snapshot) bool {
		return s.State.TutorialComplete
	},
	PredNoSellsForDays: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		day := int64(s.State.Day)
		if day < p.Threshold {
			return false
		}
		for _, tx := range s.Transactions {
			if tx.Type == TxSell && int64(tx.Day) > day-p.Threshold {
				return false
			}
		}
		return true
	},
	PredBoughtToday: func(_ *Ruleset, _ Predicate, s *Snapshot) bool {
		return s.Today != nil && s.Today.Action.Type == ActionBuy
	},
	PredProducedTodayAtLeast: func(_ *Ruleset, p Predicate, s *Snapshot) bool {
		return s.Today != nil && s.Today.Produced >= p.Threshold
	},
}

// Check evaluates p against s.
func (rs *Ruleset) Check(p Predicate, s *Snapshot) bool {
	if p.Kind == PredAllOf {
		for _, sub := range p.All {
			if !rs.Check(sub, s) {
				return false
			}
		}
		return len(p.All) > 0
	}
	fn, ok := predicates[p.Kind]
	return ok && fn(rs, p, s)
}

func (rs *Ruleset) validatePredicate(p Predicate) error {
	if p.Kind == PredAllOf {
		if len(p.All) == 0 {
			return errors.New("all_of needs at least one predicate")
		}
		for _, sub := range p.All {
			if err := rs.validatePredicate(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if _, ok := predicates[p.Kind]; !ok {
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	if p.Asset != "" {
		if _, err := rs.Asset(p.Asset); err != nil {
			return err
		}
	}
	if p.Kind == PredHedgedEventsAtLeast && p.Asset == "" {
		return errors.New("hedged_events_at_least needs an asset")
	}
	switch p.Scope {
	case "", ScopeAny, ScopeAll:
	default:
		return fmt.Errorf("unknown scope %q", p.Scope)
	}
	return nil
}

// Definition looks up any badge or mission by id.
func (rs *Ruleset) Definition(id string) (Definition, bool) {
	d, ok := rs.definitions[id]
	return d, ok
}

// Evaluate returns the definitions in registry that are not in unlocked, are
// not gated above the player's level, and whose predicate holds. It has no
// side effects.
func (rs *Ruleset) Evaluate(registry []Definition, snap Snapshot, unlocked map[string]bool) []Definition {
	var out []Definition
	for _, def := range registry {
		if unlocked[def.ID] || def.MinLevel > snap.State.Level {
			continue
		}
		if rs.Check(def.When, &snap) {
			out = append(out, def)
		}
	}
	return out
}

// DailyMissionFor rotates through the daily missions by day number. The
// second result is false below the mission's level gate.
func (rs *Ruleset) DailyMissionFor(day, level int) (Definition, bool) {
	if len(rs.DailyMissions) == 0 || day < 1 {
		return Definition{}, false
	}
	def := rs.DailyMissions[(day-1)%len(rs.DailyMissions)]
	if def.MinLevel > level {
		return Definition{}, false
	}
	return def, true
}

func DailyMissionInstanceID(defID string, day int) string {
	return fmt.Sprintf("%s-day-%d", defID, day)
}

// Unlocks collects everything a single evaluation pass unlocked.
type Unlocks struct {
	Badges   []Definition      `json:"badges"`
	Missions []MissionProgress `json:"missions"`
	// BadgeXP is the total XP bonus owed for the new badges.
	BadgeXP int64 `json:"badge_xp"`
}

// EvaluateAchievements runs badges, regular missions and today's daily
// mission against snap. New missions come back completed and unclaimed.
func (rs *Ruleset) EvaluateAchievements(snap Snapshot, now time.Time) Unlocks {
	var u Unlocks
	unlocked := snap.Unlocked()
	day := snap.State.Day

	for _, def := range rs.Evaluate(rs.Badges, snap, unlocked) {
		u.Badges = append(u.Badges, def)
		u.BadgeXP += def.RewardXP
	}
	for _, def := range rs.Evaluate(rs.Missions, snap, unlocked) {
		u.Missions = append(u.Missions, completedMission(snap.State.UserID, def.ID, def.ID, day, now))
	}
	if def, ok := rs.DailyMissionFor(day, snap.State.Level); ok {
		id := DailyMissionInstanceID(def.ID, day)
		if !unlocked[id] && rs.Check(def.When, &snap) {
			u.Missions = append(u.Missions, completedMission(snap.State.UserID, id, def.ID, day, now))
		}
	}
	return u
}

func completedMission(userID, id, defID string, day int, now time.Time) MissionProgress {
	at := now
	return MissionProgress{
		ID:           id,
		UserID:       userID,
		DefinitionID: defID,
		Status:       MissionCompleted,
		Day:          day,
		CompletedAt:  &at,
	}
}
