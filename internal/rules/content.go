package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultContent []byte

var (
	defaultOnce    sync.Once
	defaultRuleset *Ruleset
)

// Rate is an exact decimal read from content tables as a string ("0.5") so
// fractional per-share values never pass through float64.
type Rate struct {
	decimal.Decimal
}

func NewRate(s string) Rate {
	return Rate{Decimal: decimal.RequireFromString(s)}
}

func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid rate %q: %w", node.Line, node.Value, err)
	}
	r.Decimal = d
	return nil
}

// Ruleset is one versioned set of content tables. The engine never hard-codes
// balancing numbers; every operation reads them from a Ruleset.
type Ruleset struct {
	Version        string            `yaml:"version" json:"version"`
	StartingTokens int64             `yaml:"starting_tokens" json:"starting_tokens"`
	MaxShares      int               `yaml:"max_shares" json:"max_shares"`
	SellReturnRate Rate              `yaml:"sell_return_rate" json:"sell_return_rate"`
	ChanceTiers    []ChanceTier      `yaml:"event_chance" json:"event_chance"`
	Combo          ComboRule         `yaml:"combo" json:"combo"`
	Levels         []LevelTier       `yaml:"levels" json:"levels"`
	Win            WinRule           `yaml:"win" json:"win"`
	Assets         []AssetDefinition `yaml:"assets" json:"assets"`
	Categories     []EventCategory   `yaml:"categories" json:"categories"`
	Indicators     IndicatorTables   `yaml:"indicators" json:"indicators"`
	Badges         []Definition      `yaml:"badges" json:"badges"`
	Missions       []Definition      `yaml:"missions" json:"missions"`
	DailyMissions  []Definition      `yaml:"daily_missions" json:"daily_missions"`

	assets      map[AssetID]AssetDefinition
	definitions map[string]Definition
	categories  WeightedTable[EventCategory]
	withinCat   map[Category]WeightedTable[EventDefinition]
	weather     WeightedTable[Indicator]
	economy     WeightedTable[Indicator]
	crisisRisk  WeightedTable[Indicator]
}

type ChanceTier struct {
	// ThroughDay is the last day the tier covers; 0 means every later day.
	ThroughDay int  `yaml:"through_day" json:"through_day"`
	Chance     Rate `yaml:"chance" json:"chance"`
}

type ComboRule struct {
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
	MaxMultiplier int `yaml:"max_multiplier" json:"max_multiplier"`
}

type WinRule struct {
	Level  int   `yaml:"level" json:"level"`
	Tokens int64 `yaml:"tokens" json:"tokens"`
}

// Default returns the embedded canonical ruleset.
func Default() *Ruleset {
	defaultOnce.Do(func() {
		rs, err := Parse(defaultContent)
		if err != nil {
			panic(fmt.Sprintf("embedded ruleset: %v", err))
		}
		defaultRuleset = rs
	})
	return defaultRuleset
}

// LoadFile reads a ruleset from a YAML file on disk. An empty path returns
// the embedded default.
func LoadFile(path string) (*Ruleset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Ruleset, error) {
	var rs Ruleset
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	if err := rs.prepare(); err != nil {
		return nil, fmt.Errorf("ruleset %q: %w", rs.Version, err)
	}
	return &rs, nil
}

func (rs *Ruleset) prepare() error {
	if strings.TrimSpace(rs.Version) == "" {
		return errors.New("version is required")
	}
	if rs.StartingTokens < 0 {
		return errors.New("starting_tokens must be >= 0")
	}
	if rs.MaxShares <= 0 {
		return errors.New("max_shares must be > 0")
	}
	if !rs.SellReturnRate.IsPositive() || rs.SellReturnRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("sell_return_rate must be in (0, 1]")
	}
	if err := rs.prepareChance(); err != nil {
		return err
	}
	if err := rs.prepareLevels(); err != nil {
		return err
	}

	rs.assets = make(map[AssetID]AssetDefinition, len(rs.Assets))
	for _, a := range rs.Assets {
		if _, dup := rs.assets[a.ID]; dup {
			return fmt.Errorf("duplicate asset %q", a.ID)
		}
		if a.CostPerShare <= 0 {
			return fmt.Errorf("asset %q: cost_per_share must be > 0", a.ID)
		}
		if a.ProductionPerShare.IsNegative() {
			return fmt.Errorf("asset %q: production_per_share must be >= 0", a.ID)
		}
		rs.assets[a.ID] = a
	}
	if len(rs.assets) == 0 {
		return errors.New("at least one asset is required")
	}

	if err := rs.prepareEvents(); err != nil {
		return err
	}
	if err := rs.prepareIndicators(); err != nil {
		return err
	}
	return rs.prepareDefinitions()
}

func (rs *Ruleset) prepareChance() error {
	if len(rs.ChanceTiers) == 0 {
		return errors.New("event_chance needs at least one tier")
	}
	last := 0
	for i, tier := range rs.ChanceTiers {
		if tier.Chance.IsNegative() || tier.Chance.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("event_chance[%d]: chance must be in [0, 1]", i)
		}
		open := tier.ThroughDay == 0
		if open != (i == len(rs.ChanceTiers)-1) {
			return errors.New("event_chance: only the last tier may be open-ended and it must be")
		}
		if !open && tier.ThroughDay <= last {
			return errors.New("event_chance: through_day must increase")
		}
		last = tier.ThroughDay
	}
	return nil
}

func (rs *Ruleset) prepareLevels() error {
	if len(rs.Levels) == 0 || rs.Levels[0].XP != 0 {
		return errors.New("levels must start with a tier at xp 0")
	}
	for i := 1; i < len(rs.Levels); i++ {
		if rs.Levels[i].XP <= rs.Levels[i-1].XP || rs.Levels[i].Level != rs.Levels[i-1].Level+1 {
			return fmt.Errorf("levels[%d]: thresholds must be strictly ascending and levels consecutive", i)
		}
	}
	return nil
}

func (rs *Ruleset) prepareDefinitions() error {
	rs.definitions = make(map[string]Definition)
	groups := []struct {
		kind DefinitionKind
		defs []Definition
	}{
		{KindBadge, rs.Badges},
		{KindMission, rs.Missions},
		{KindDailyMission, rs.DailyMissions},
	}
	for _, g := range groups {
		for i := range g.defs {
			def := &g.defs[i]
			def.Kind = g.kind
			if def.ID == "" {
				return fmt.Errorf("%s #%d: id is required", g.kind, i)
			}
			if _, dup := rs.definitions[def.ID]; dup {
				return fmt.Errorf("duplicate definition id %q", def.ID)
			}
			if err := rs.validatePredicate(def.When); err != nil {
				return fmt.Errorf("%s %q: %w", g.kind, def.ID, err)
			}
			rs.definitions[def.ID] = *def
		}
	}
	return nil
}
