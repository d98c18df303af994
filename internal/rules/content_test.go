package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRuleset(t *testing.T) {
	rs := Default()
	if rs.Version == "" || rs.StartingTokens != 15 || rs.MaxShares != 4 {
		t.Fatalf("unexpected header: version=%q tokens=%d max=%d", rs.Version, rs.StartingTokens, rs.MaxShares)
	}
	if got := len(rs.Assets); got != 3 {
		t.Fatalf("assets got=%d want=3", got)
	}
	gold, err := rs.Asset(AssetGold)
	if err != nil || gold.Hedge == nil {
		t.Fatalf("gold must be the hedge asset: %+v err=%v", gold, err)
	}
	for _, cat := range rs.Categories {
		for _, ev := range cat.Events {
			if ev.Category != cat.Name {
				t.Fatalf("event %q category not stamped", ev.Name)
			}
		}
	}
	for _, b := range rs.Badges {
		if b.Kind != KindBadge {
			t.Fatalf("badge %q kind=%q", b.ID, b.Kind)
		}
	}
}

func TestParseRejectsBadContent(t *testing.T) {
	base := string(defaultContent)
	tests := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"unknown predicate", func(s string) string {
			return strings.Replace(s, "kind: tutorial_complete", "kind: moon_landing", 1)
		}, "unknown predicate kind"},
		{"unknown field", func(s string) string {
			return strings.Replace(s, "max_shares: 4", "max_shares: 4\nmax_sharez: 5", 1)
		}, "decode ruleset"},
		{"bad rate", func(s string) string {
			return strings.Replace(s, `sell_return_rate: "0.60"`, `sell_return_rate: "sixty"`, 1)
		}, "invalid rate"},
		{"rate above one", func(s string) string {
			return strings.Replace(s, `sell_return_rate: "0.60"`, `sell_return_rate: "1.5"`, 1)
		}, "sell_return_rate"},
		{"unknown effect asset", func(s string) string {
			return strings.Replace(s, "{asset: solar, tokens_per_share: \"2\", xp: 20}", "{asset: oil, tokens_per_share: \"2\", xp: 20}", 1)
		}, "unknown asset"},
	}
	for _, tc := range tests {
		_, err := Parse([]byte(tc.edit(base)))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want error containing %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	rs, err := LoadFile("")
	if err != nil || rs != Default() {
		t.Fatalf("empty path should return the default ruleset")
	}
	path := filepath.Join(t.TempDir(), "rules.yaml")
	custom := strings.Replace(string(defaultContent), `version: "tinyassets-2025.1"`, `version: "classroom-easy"`, 1)
	custom = strings.Replace(custom, "starting_tokens: 15", "starting_tokens: 40", 1)
	if err := os.WriteFile(path, []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}
	rs, err = LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs.Version != "classroom-easy" || rs.StartingTokens != 40 {
		t.Fatalf("override not applied: %q %d", rs.Version, rs.StartingTokens)
	}
}
