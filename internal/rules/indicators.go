package rules

import (
	"errors"
	"fmt"
)

type Indicator struct {
	Value      string  `yaml:"value" json:"value"`
	Weight     float64 `yaml:"weight" json:"weight"`
	MinPercent int     `yaml:"min_percent,omitempty" json:"min_percent,omitempty"`
	MaxPercent int     `yaml:"max_percent,omitempty" json:"max_percent,omitempty"`
}

type IndicatorTables struct {
	Weather    []Indicator `yaml:"weather" json:"weather"`
	Economy    []Indicator `yaml:"economy" json:"economy"`
	CrisisRisk []Indicator `yaml:"crisis_risk" json:"crisis_risk"`
}

// MorningIndicators is flavor text shown at the start of a day. Nothing in
// the engine reads it back.
type MorningIndicators struct {
	Weather       string `json:"weather"`
	Economy       string `json:"economy"`
	CrisisRisk    string `json:"crisis_risk"`
	CrisisPercent int    `json:"crisis_percent"`
}

func (rs *Ruleset) prepareIndicators() error {
	byWeight := func(i Indicator) float64 { return i.Weight }
	tables := []struct {
		name  string
		items []Indicator
		dst   *WeightedTable[Indicator]
	}{
		{"weather", rs.Indicators.Weather, &rs.weather},
		{"economy", rs.Indicators.Economy, &rs.economy},
		{"crisis_risk", rs.Indicators.CrisisRisk, &rs.crisisRisk},
	}
	for _, t := range tables {
		if len(t.items) == 0 {
			return fmt.Errorf("indicators.%s must not be empty", t.name)
		}
		for _, it := range t.items {
			if it.Weight <= 0 || it.MaxPercent < it.MinPercent {
				return errors.New("indicators." + t.name + ": weights must be > 0 and percent ranges ordered")
			}
		}
		*t.dst = NewWeightedTable(t.items, byWeight)
	}
	return nil
}

// MorningIndicators consumes four draws: weather, economy, crisis risk band
// and the percentage inside that band.
func (rs *Ruleset) MorningIndicators(src RandomSource) MorningIndicators {
	weather, _ := rs.weather.Pick(src)
	economy, _ := rs.economy.Pick(src)
	risk, _ := rs.crisisRisk.Pick(src)
	span := risk.MaxPercent - risk.MinPercent + 1
	pct := risk.MinPercent + int(src.Float64()*float64(span))
	if pct > risk.MaxPercent {
		pct = risk.MaxPercent
	}
	return MorningIndicators{
		Weather:       weather.Value,
		Economy:       economy.Value,
		CrisisRisk:    risk.Value,
		CrisisPercent: pct,
	}
}
