package rules

import (
	"fmt"
	"strings"
)

type AssetID string

const (
	AssetProperty AssetID = "property"
	AssetSolar    AssetID = "solar"
	AssetGold     AssetID = "gold"
)

// AssetDefinition is static catalog data for one tradable asset.
type AssetDefinition struct {
	ID                 AssetID `yaml:"id" json:"id"`
	Name               string  `yaml:"name" json:"name"`
	Emoji              string  `yaml:"emoji" json:"emoji"`
	CostPerShare       int64   `yaml:"cost_per_share" json:"cost_per_share"`
	ProductionPerShare Rate    `yaml:"production_per_share" json:"production_per_share"`
	Description        string  `yaml:"description" json:"description"`
	Lesson             string  `yaml:"lesson" json:"lesson"`
	Hedge              *Hedge  `yaml:"hedge,omitempty" json:"hedge,omitempty"`
}

// Hedge marks a crisis-response asset. During crisis events and
// mild-uncertainty economic events its per-share effect is replaced by these
// flat rates.
type Hedge struct {
	CrisisPerShare      Rate `yaml:"crisis_per_share" json:"crisis_per_share"`
	UncertaintyPerShare Rate `yaml:"uncertainty_per_share" json:"uncertainty_per_share"`
}

func (rs *Ruleset) Asset(id AssetID) (AssetDefinition, error) {
	a, ok := rs.assets[id]
	if !ok {
		return AssetDefinition{}, fmt.Errorf("%w: %q", ErrUnknownAsset, id)
	}
	return a, nil
}

// AssetIDs lists catalog ids in content order.
func (rs *Ruleset) AssetIDs() []AssetID {
	out := make([]AssetID, 0, len(rs.Assets))
	for _, a := range rs.Assets {
		out = append(out, a.ID)
	}
	return out
}

// ParseAssetID normalizes user input and checks it against the catalog.
func (rs *Ruleset) ParseAssetID(raw string) (AssetID, error) {
	id := AssetID(strings.ToLower(strings.TrimSpace(raw)))
	if _, err := rs.Asset(id); err != nil {
		return "", err
	}
	return id, nil
}
