package game

import (
	"time"

	"tinyassets/internal/rules"
)

type TradeInput struct {
	UserID         string
	Asset          rules.AssetID
	Shares         int
	IdempotencyKey string
}

// DayRequest asks for the player's current day to be executed. ExpectedDay,
// when non-zero, must equal the current day.
type DayRequest struct {
	UserID         string
	Action         rules.Action
	ExpectedDay    int
	IdempotencyKey string
}

type ClaimInput struct {
	UserID         string
	MissionID      string
	IdempotencyKey string
}

type ClaimResult struct {
	MissionID     string          `json:"mission_id"`
	TokensAwarded int64           `json:"tokens_awarded"`
	XPAwarded     int64           `json:"xp_awarded"`
	XP            rules.XPGain    `json:"xp"`
	Unlocks       rules.Unlocks   `json:"unlocks"`
	State         rules.GameState `json:"state"`
}

type ProgressResult struct {
	State   rules.GameState `json:"state"`
	Unlocks rules.Unlocks   `json:"unlocks"`
	XP      rules.XPGain    `json:"xp"`
}

type HoldingView struct {
	Asset            rules.AssetID `json:"asset"`
	Name             string        `json:"name"`
	Emoji            string        `json:"emoji"`
	Shares           int           `json:"shares"`
	OwnershipPercent int           `json:"ownership_percent"`
	DailyProduction  int64         `json:"daily_production"`
	SaleValue        int64         `json:"sale_value"`
}

type BadgeView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Emoji       string    `json:"emoji"`
	Description string    `json:"description"`
	RewardXP    int64     `json:"reward_xp"`
	Day         int       `json:"day"`
	EarnedAt    time.Time `json:"earned_at"`
}

const (
	MissionLocked     = "locked"
	MissionInProgress = "in_progress"
)

type MissionView struct {
	ID           string               `json:"id"`
	DefinitionID string               `json:"definition_id"`
	Name         string               `json:"name"`
	Emoji        string               `json:"emoji"`
	Description  string               `json:"description"`
	Kind         rules.DefinitionKind `json:"kind"`
	MinLevel     int                  `json:"min_level"`
	RewardTokens int64                `json:"reward_tokens"`
	RewardXP     int64                `json:"reward_xp"`
	Status       string               `json:"status"`
	Day          int                  `json:"day,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	ClaimedAt    *time.Time           `json:"claimed_at,omitempty"`
}

type IndicatorsView struct {
	Day                int                     `json:"day"`
	EventChancePercent int64                   `json:"event_chance_percent"`
	Indicators         rules.MorningIndicators `json:"indicators"`
}

// Portfolio is the summary shown to the player and, behind the PIN, to the
// parent dashboard.
type Portfolio struct {
	UserID                string          `json:"user_id"`
	Tokens                int64           `json:"tokens"`
	XP                    int64           `json:"xp"`
	Level                 int             `json:"level"`
	NextLevelXP           int64           `json:"next_level_xp,omitempty"`
	Day                   int             `json:"day"`
	Holdings              []HoldingView   `json:"holdings"`
	TotalProductionEarned int64           `json:"total_production_earned"`
	DailyProductionRate   int64           `json:"daily_production_rate"`
	CrisisProtection      int64           `json:"crisis_protection"`
	BadgesEarned          int             `json:"badges_earned"`
	MissionsCompleted     int             `json:"missions_completed"`
	MissionsClaimed       int             `json:"missions_claimed"`
	EventsSeen            int             `json:"events_seen"`
	Win                   rules.WinStatus `json:"win"`
	RulesetVersion        string          `json:"ruleset_version"`
}

type ParentAccess struct {
	PIN     string `json:"pin"`
	Rotated bool   `json:"rotated"`
}

const (
	ReplayBuy   = "buy"
	ReplaySell  = "sell"
	ReplayDay   = "day"
	ReplaySkip  = "skip"
	ReplayClaim = "claim"
)

// ReplayCommand is one write the CLI queued while offline.
type ReplayCommand struct {
	Kind           string        `json:"kind"`
	Asset          rules.AssetID `json:"asset,omitempty"`
	Shares         int           `json:"shares,omitempty"`
	Action         rules.Action  `json:"action,omitempty"`
	ExpectedDay    int           `json:"expected_day,omitempty"`
	MissionID      string        `json:"mission_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
}

const (
	ReplayApplied   = "applied"
	ReplayDuplicate = "duplicate"
	ReplayRejected  = "rejected"
)

type ReplayResult struct {
	Kind           string `json:"kind"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	Day            int    `json:"day,omitempty"`
}
