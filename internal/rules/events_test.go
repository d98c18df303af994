package rules

import (
	"testing"
)

func mustEvent(t *testing.T, rs *Ruleset, name string) EventDefinition {
	t.Helper()
	ev, ok := rs.FindEvent(name)
	if !ok {
		t.Fatalf("event %q missing from ruleset", name)
	}
	return ev
}

func TestApplyEventCrisisHedge(t *testing.T) {
	rs := Default()
	crash := mustEvent(t, rs, "Market Crash")
	h := Holdings{{Asset: AssetGold, Shares: 4}}

	out := rs.ApplyEvent(crash, h, 0)
	if out.TokenDelta != 16 {
		t.Fatalf("gold crash delta got=%d want=16", out.TokenDelta)
	}
	if len(out.Impacts) != 1 || out.Impacts[0].Override != OverrideCrisis {
		t.Fatalf("expected crisis override impact, got %+v", out.Impacts)
	}

	// Global Panic lists 5/share in the table but the hedge rate wins.
	panicEv := mustEvent(t, rs, "Global Panic")
	if got := rs.ApplyEvent(panicEv, Holdings{{Asset: AssetGold, Shares: 2}}, 0).TokenDelta; got != 8 {
		t.Fatalf("global panic delta got=%d want=8", got)
	}
}

func TestApplyEventMildUncertainty(t *testing.T) {
	rs := Default()
	recession := mustEvent(t, rs, "Recession")
	h := Holdings{{Asset: AssetGold, Shares: 3}, {Asset: AssetProperty, Shares: 2}}

	out := rs.ApplyEvent(recession, h, 50)
	// property: -1 * 2, gold: flat 2 * 3
	if out.TokenDelta != 4 {
		t.Fatalf("recession delta got=%d want=4", out.TokenDelta)
	}
	if out.XP != 35 {
		t.Fatalf("xp is flat per affected asset: got=%d want=35", out.XP)
	}
}

func TestApplyEventEmptyHoldings(t *testing.T) {
	rs := Default()
	for _, cat := range rs.Categories {
		for _, ev := range cat.Events {
			out := rs.ApplyEvent(ev, nil, 15)
			if out.TokenDelta != 0 || out.XP != 0 || len(out.Impacts) != 0 {
				t.Fatalf("%s against no holdings: %+v", ev.Name, out)
			}
		}
	}
}

func TestApplyEventFloorsAndClamps(t *testing.T) {
	rs := Default()
	cloudy := mustEvent(t, rs, "Cloudy Week")
	out := rs.ApplyEvent(cloudy, Holdings{{Asset: AssetSolar, Shares: 1}}, 10)
	if out.TokenDelta != -1 {
		t.Fatalf("floor(-0.5) got=%d want=-1", out.TokenDelta)
	}

	storm := mustEvent(t, rs, "Storm")
	h := Holdings{{Asset: AssetSolar, Shares: 4}, {Asset: AssetProperty, Shares: 4}}
	out = rs.ApplyEvent(storm, h, 3)
	if out.TokenDelta != -3 || !out.Clamped {
		t.Fatalf("expected clamp to -3, got %+v", out)
	}
}

func TestEventChanceTiers(t *testing.T) {
	rs := Default()
	tests := []struct {
		day  int
		want string
	}{
		{1, "0.2"}, {5, "0.2"}, {6, "0.3"}, {15, "0.3"}, {16, "0.4"}, {200, "0.4"},
	}
	for _, tc := range tests {
		if got := rs.EventChance(tc.day).String(); got != tc.want {
			t.Fatalf("day %d chance got=%s want=%s", tc.day, got, tc.want)
		}
	}
	if !rs.ShouldTriggerToday(3, draws(0.19)) {
		t.Fatalf("0.19 < 0.20 should trigger")
	}
	if rs.ShouldTriggerToday(3, draws(0.2)) {
		t.Fatalf("0.20 should not trigger on day 3")
	}
	if !rs.ShouldTriggerToday(16, draws(0.39)) {
		t.Fatalf("0.39 should trigger on day 16")
	}
}

func TestSelectEventDeterministic(t *testing.T) {
	rs := Default()
	tests := []struct {
		draws []float64
		want  string
	}{
		{[]float64{0.0, 0.0}, "Heatwave"},
		{[]float64{0.5, 0.0}, "Housing Boom"},
		{[]float64{0.99, 0.0}, "Market Crash"},
		{[]float64{0.99, 0.99}, "War News"},
		{[]float64{0.1, 0.95}, "Storm"},
	}
	for _, tc := range tests {
		got := rs.SelectEvent(draws(tc.draws...)).Name
		if got != tc.want {
			t.Fatalf("draws %v got=%q want=%q", tc.draws, got, tc.want)
		}
		again := rs.SelectEvent(draws(tc.draws...)).Name
		if again != got {
			t.Fatalf("same draws gave %q then %q", got, again)
		}
	}
}

type constSource float64

func (c constSource) Float64() float64 { return float64(c) }

func TestWeightedTableFallsBackToLast(t *testing.T) {
	table := NewWeightedTable([]string{"a", "b", "c"}, func(string) float64 { return 1 })
	got, ok := table.Pick(constSource(1.0))
	if !ok || got != "c" {
		t.Fatalf("out-of-range draw got=%q want=c", got)
	}
	zero := NewWeightedTable([]string{"x", "y"}, func(string) float64 { return 0 })
	if got, _ := zero.Pick(constSource(0.3)); got != "y" {
		t.Fatalf("all-zero weights got=%q want=y", got)
	}
	if _, ok := NewWeightedTable[string](nil, nil).Pick(constSource(0)); ok {
		t.Fatalf("empty table should report no pick")
	}
}

func TestMorningIndicators(t *testing.T) {
	rs := Default()
	got := rs.MorningIndicators(draws(0.1, 0.5, 0.95, 0.5))
	if got.Weather != "sunny" || got.Economy != "stable" || got.CrisisRisk != "high" {
		t.Fatalf("unexpected indicators: %+v", got)
	}
	if got.CrisisPercent < 40 || got.CrisisPercent > 99 {
		t.Fatalf("crisis percent %d outside high band", got.CrisisPercent)
	}
}
