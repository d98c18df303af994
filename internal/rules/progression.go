package rules

import "time"

type LevelTier struct {
	Level   int    `yaml:"level" json:"level"`
	XP      int64  `yaml:"xp" json:"xp"`
	Unlocks string `yaml:"unlocks" json:"unlocks"`
}

// XPGain is the result of adding XP. LeveledUp is the one-shot signal the UI
// celebrates; it is never stored.
type XPGain struct {
	PreviousXP    int64 `json:"previous_xp"`
	NewXP         int64 `json:"new_xp"`
	PreviousLevel int   `json:"previous_level"`
	NewLevel      int   `json:"new_level"`
	LeveledUp     bool  `json:"leveled_up"`
}

// LevelFromXP returns the highest tier whose threshold is <= xp.
func (rs *Ruleset) LevelFromXP(xp int64) int {
	level := rs.Levels[0].Level
	for _, tier := range rs.Levels {
		if xp < tier.XP {
			break
		}
		level = tier.Level
	}
	return level
}

func (rs *Ruleset) AddXP(currentXP, delta int64) XPGain {
	g := XPGain{
		PreviousXP:    currentXP,
		NewXP:         currentXP + delta,
		PreviousLevel: rs.LevelFromXP(currentXP),
	}
	g.NewLevel = rs.LevelFromXP(g.NewXP)
	g.LeveledUp = g.NewLevel > g.PreviousLevel
	return g
}

// NextLevel returns the tier after level, or false at the cap.
func (rs *Ruleset) NextLevel(level int) (LevelTier, bool) {
	for _, tier := range rs.Levels {
		if tier.Level == level+1 {
			return tier, true
		}
	}
	return LevelTier{}, false
}

// ComboMultiplier rewards events that fire in quick succession. A zero
// lastEvent means no previous event.
func (rs *Ruleset) ComboMultiplier(lastEvent, now time.Time) int {
	if lastEvent.IsZero() || rs.Combo.WindowSeconds <= 0 {
		return 1
	}
	window := time.Duration(rs.Combo.WindowSeconds) * time.Second
	elapsed := now.Sub(lastEvent)
	if elapsed < 0 || elapsed >= window {
		return 1
	}
	maxMult := rs.Combo.MaxMultiplier
	if maxMult < 1 {
		maxMult = 1
	}
	if elapsed == 0 {
		return maxMult
	}
	return max(1, min(maxMult, int(window/elapsed)))
}
