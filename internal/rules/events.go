package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryEnvironmental Category = "environmental"
	CategoryEconomic      Category = "economic"
	CategoryCrisis        Category = "crisis"
)

type EventEffect struct {
	Asset          AssetID `yaml:"asset" json:"asset"`
	TokensPerShare Rate    `yaml:"tokens_per_share" json:"tokens_per_share"`
	XP             int64   `yaml:"xp" json:"xp"`
}

type EventDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Category    Category `yaml:"-" json:"category"`
	Weight      float64  `yaml:"weight" json:"weight"`
	Description string   `yaml:"description" json:"description"`
	Lesson      string   `yaml:"lesson" json:"lesson"`
	// MildUncertainty switches hedge assets to their uncertainty rate.
	MildUncertainty bool          `yaml:"mild_uncertainty,omitempty" json:"mild_uncertainty,omitempty"`
	Effects         []EventEffect `yaml:"effects" json:"effects"`
}

func (e EventDefinition) effectFor(id AssetID) (EventEffect, bool) {
	for _, eff := range e.Effects {
		if eff.Asset == id {
			return eff, true
		}
	}
	return EventEffect{}, false
}

type EventCategory struct {
	Name   Category          `yaml:"name" json:"name"`
	Events []EventDefinition `yaml:"events" json:"events"`
}

const (
	OverrideCrisis          = "crisis"
	OverrideMildUncertainty = "mild_uncertainty"
)

// AssetImpact is one held asset's share of an event's effect.
type AssetImpact struct {
	Asset          AssetID         `json:"asset"`
	Shares         int             `json:"shares"`
	TokensPerShare decimal.Decimal `json:"tokens_per_share"`
	Tokens         int64           `json:"tokens"`
	XP             int64           `json:"xp"`
	Override       string          `json:"override,omitempty"`
}

type EventOutcome struct {
	Event      EventDefinition `json:"event"`
	TokenDelta int64           `json:"token_delta"`
	XP         int64           `json:"xp"`
	Impacts    []AssetImpact   `json:"impacts"`
	// Clamped is set when the raw delta would have taken the balance below zero.
	Clamped bool `json:"clamped,omitempty"`
}

func (rs *Ruleset) prepareEvents() error {
	if len(rs.Categories) == 0 {
		return errors.New("at least one event category is required")
	}
	rs.withinCat = make(map[Category]WeightedTable[EventDefinition], len(rs.Categories))
	for ci := range rs.Categories {
		cat := &rs.Categories[ci]
		if cat.Name == "" || len(cat.Events) == 0 {
			return fmt.Errorf("category #%d needs a name and events", ci)
		}
		if _, dup := rs.withinCat[cat.Name]; dup {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		for ei := range cat.Events {
			ev := &cat.Events[ei]
			ev.Category = cat.Name
			if ev.Weight <= 0 {
				return fmt.Errorf("event %q: weight must be > 0", ev.Name)
			}
			for _, eff := range ev.Effects {
				if _, ok := rs.assets[eff.Asset]; !ok {
					return fmt.Errorf("event %q: %w %q", ev.Name, ErrUnknownAsset, eff.Asset)
				}
			}
		}
		rs.withinCat[cat.Name] = NewWeightedTable(cat.Events, func(e EventDefinition) float64 { return e.Weight })
	}
	rs.categories = UniformTable(rs.Categories)
	return nil
}

// EventChance is the trigger probability for a given day.
func (rs *Ruleset) EventChance(day int) decimal.Decimal {
	for _, tier := range rs.ChanceTiers {
		if tier.ThroughDay == 0 || day <= tier.ThroughDay {
			return tier.Chance.Decimal
		}
	}
	return decimal.Zero
}

// ShouldTriggerToday consumes exactly one draw.
func (rs *Ruleset) ShouldTriggerToday(day int, src RandomSource) bool {
	return src.Float64() < rs.EventChance(day).InexactFloat64()
}

// SelectEvent consumes two draws: a uniform category pick, then a weighted
// pick inside that category.
func (rs *Ruleset) SelectEvent(src RandomSource) EventDefinition {
	cat, _ := rs.categories.Pick(src)
	ev, _ := rs.withinCat[cat.Name].Pick(src)
	return ev
}

// FindEvent looks an event up by name across every category.
func (rs *Ruleset) FindEvent(name string) (EventDefinition, bool) {
	for _, cat := range rs.Categories {
		for _, ev := range cat.Events {
			if ev.Name == name {
				return ev, true
			}
		}
	}
	return EventDefinition{}, false
}

// ApplyEvent scales an event across the player's holdings. Hedge assets
// ignore the generic table during crisis and mild-uncertainty events and use
// their flat rates instead. XP is flat per affected asset. The total token
// delta never takes balance below zero.
func (rs *Ruleset) ApplyEvent(ev EventDefinition, holdings Holdings, balance int64) EventOutcome {
	out := EventOutcome{Event: ev}
	for _, asset := range rs.Assets {
		shares := holdings.Shares(asset.ID)
		if shares <= 0 {
			continue
		}
		eff, ok := ev.effectFor(asset.ID)
		rate := eff.TokensPerShare.Decimal
		override := ""
		if asset.Hedge != nil {
			switch {
			case ev.Category == CategoryCrisis:
				rate, override = asset.Hedge.CrisisPerShare.Decimal, OverrideCrisis
			case ev.MildUncertainty:
				rate, override = asset.Hedge.UncertaintyPerShare.Decimal, OverrideMildUncertainty
			}
		}
		if !ok && override == "" {
			continue
		}
		tokens := rate.Mul(decimal.NewFromInt(int64(shares))).Floor().IntPart()
		out.Impacts = append(out.Impacts, AssetImpact{
			Asset:          asset.ID,
			Shares:         shares,
			TokensPerShare: rate,
			Tokens:         tokens,
			XP:             eff.XP,
			Override:       override,
		})
		out.TokenDelta += tokens
		out.XP += eff.XP
	}
	if balance+out.TokenDelta < 0 {
		out.TokenDelta = -balance
		out.Clamped = true
	}
	return out
}
