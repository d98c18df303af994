package rules

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownAsset         = errors.New("unknown asset")
	ErrInvalidShareCount    = errors.New("share count must be a positive whole number")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOwnershipCapExceeded = errors.New("ownership cap exceeded")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidAction        = errors.New("invalid action")
	ErrWrongPhase           = errors.New("not allowed in the current phase")
)

// ShortfallError reports an expected gameplay rejection together with the
// numbers a UI needs to explain it. It unwraps to one of the Err* sentinels.
type ShortfallError struct {
	Err       error   `json:"-"`
	Asset     AssetID `json:"asset"`
	Requested int64   `json:"requested"`
	Available int64   `json:"available"`
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v: %s requested %d, available %d", e.Err, e.Asset, e.Requested, e.Available)
}

func (e *ShortfallError) Unwrap() error { return e.Err }

// GameState is one player's single continuous playthrough. Level is always
// derived from XP.
type GameState struct {
	UserID           string     `json:"user_id"`
	Tokens           int64      `json:"tokens"`
	XP               int64      `json:"xp"`
	Level            int        `json:"level"`
	Day              int        `json:"day"`
	TutorialComplete bool       `json:"tutorial_complete"`
	DaysDiversified  int        `json:"days_diversified"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty"`
	RulesetVersion   string     `json:"ruleset_version"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewGameState is the default state for a player seen for the first time.
func (rs *Ruleset) NewGameState(userID string, now time.Time) GameState {
	return GameState{
		UserID:         userID,
		Tokens:         rs.StartingTokens,
		XP:             0,
		Level:          rs.LevelFromXP(0),
		Day:            1,
		RulesetVersion: rs.Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type Holding struct {
	UserID    string    `json:"user_id"`
	Asset     AssetID   `json:"asset"`
	Shares    int       `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Holdings []Holding

func (h Holdings) Shares(id AssetID) int {
	for _, row := range h {
		if row.Asset == id {
			return row.Shares
		}
	}
	return 0
}

// With returns a copy of h where asset id holds the given share count.
// A zero count removes the row.
func (h Holdings) With(userID string, id AssetID, shares int, now time.Time) Holdings {
	out := make(Holdings, 0, len(h)+1)
	found := false
	for _, row := range h {
		if row.Asset != id {
			out = append(out, row)
			continue
		}
		found = true
		if shares > 0 {
			row.Shares = shares
			row.UpdatedAt = now
			out = append(out, row)
		}
	}
	if !found && shares > 0 {
		out = append(out, Holding{UserID: userID, Asset: id, Shares: shares, UpdatedAt: now})
	}
	return out
}

type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
)

type Transaction struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Day              int       `json:"day"`
	Type             TxType    `json:"type"`
	Asset            AssetID   `json:"asset"`
	Shares           int       `json:"shares"`
	Amount           int64     `json:"amount"`
	OwnershipPercent int       `json:"ownership_percent"`
	CreatedAt        time.Time `json:"created_at"`
}

type EventRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Day         int           `json:"day"`
	Name        string        `json:"name"`
	Category    Category      `json:"category"`
	Description string        `json:"description"`
	TokenDelta  int64         `json:"token_delta"`
	XPAwarded   int64         `json:"xp_awarded"`
	Combo       int           `json:"combo"`
	Impacts     []AssetImpact `json:"impacts"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Affected reports whether the event touched a held position in asset id.
func (e EventRecord) Affected(id AssetID) bool {
	for _, imp := range e.Impacts {
		if imp.Asset == id && imp.Shares > 0 {
			return true
		}
	}
	return false
}

type ProductionRecord struct {
	UserID    string    `json:"user_id"`
	Day       int       `json:"day"`
	Asset     AssetID   `json:"asset"`
	Shares    int       `json:"shares"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

type EarnedBadge struct {
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	Day      int       `json:"day"`
	EarnedAt time.Time `json:"earned_at"`
}

type MissionStatus string

const (
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
	MissionClaimed    MissionStatus = "claimed"
)

// MissionProgress is a per-player mission instance. ID equals DefinitionID
// for regular missions and is day-qualified for daily ones.
type MissionProgress struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	DefinitionID string        `json:"definition_id"`
	Status       MissionStatus `json:"status"`
	Day          int           `json:"day"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ClaimedAt    *time.Time    `json:"claimed_at,omitempty"`
}

// DayReport describes what happened during the day being executed. It is
// only set while achievements are evaluated for that day.
type DayReport struct {
	Day      int          `json:"day"`
	Action   Action       `json:"action"`
	Produced int64        `json:"produced"`
	Event    *EventRecord `json:"event,omitempty"`
}

// Snapshot is the read-only view the achievement predicates run over.
type Snapshot struct {
	State        GameState
	Holdings     Holdings
	Events       []EventRecord
	Transactions []Transaction
	Production   []ProductionRecord
	Badges       []EarnedBadge
	Missions     []MissionProgress
	Today        *DayReport
}

// Unlocked returns the ids of every badge and mission instance already
// recorded for the player.
func (s Snapshot) Unlocked() map[string]bool {
	out := make(map[string]bool, len(s.Badges)+len(s.Missions))
	for _, b := range s.Badges {
		out[b.BadgeID] = true
	}
	for _, m := range s.Missions {
		out[m.ID] = true
	}
	return out
}
