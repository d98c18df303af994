package rules

import (
	"reflect"
	"testing"
	"time"
)

func ids(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestEvaluateSkipsUnlockedAndIsDeterministic(t *testing.T) {
	rs := Default()
	snap := Snapshot{
		State:    GameState{UserID: "u", Level: 1, Day: 3, Tokens: 20},
		Holdings: Holdings{{Asset: AssetProperty, Shares: 4}},
	}
	first := ids(rs.Evaluate(rs.Badges, snap, nil))
	want := []string{"first-steps", "property-mogul"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("got=%v want=%v", first, want)
	}
	if second := ids(rs.Evaluate(rs.Badges, snap, nil)); !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluation not deterministic: %v vs %v", first, second)
	}
	got := ids(rs.Evaluate(rs.Badges, snap, map[string]bool{"first-steps": true}))
	if !reflect.DeepEqual(got, []string{"property-mogul"}) {
		t.Fatalf("already unlocked badge returned again: %v", got)
	}
}

func TestMissionLevelGating(t *testing.T) {
	rs := Default()
	snap := Snapshot{
		State:    GameState{Level: 1, Day: 2},
		Holdings: Holdings{{Asset: AssetProperty, Shares: 1}, {Asset: AssetSolar, Shares: 1}},
	}
	got := ids(rs.Evaluate(rs.Missions, snap, nil))
	if !reflect.DeepEqual(got, []string{"first-share"}) {
		t.Fatalf("level 1 got=%v", got)
	}
	snap.State.Level = 2
	got = ids(rs.Evaluate(rs.Missions, snap, nil))
	if !reflect.DeepEqual(got, []string{"first-share", "diversification"}) {
		t.Fatalf("level 2 got=%v", got)
	}
}

func TestCrisisSurvivorCountsOnlyHedgedCrises(t *testing.T) {
	rs := Default()
	crisis := func(affected bool) EventRecord {
		rec := EventRecord{Category: CategoryCrisis}
		if affected {
			rec.Impacts = []AssetImpact{{Asset: AssetGold, Shares: 1}}
		}
		return rec
	}
	snap := Snapshot{
		State:  GameState{Level: 1},
		Events: []EventRecord{crisis(true), crisis(false), crisis(true), {Category: CategoryEconomic, Impacts: []AssetImpact{{Asset: AssetGold, Shares: 1}}}},
	}
	def, _ := rs.Definition("crisis-survivor")
	if rs.Check(def.When, &snap) {
		t.Fatalf("only two hedged crises so far")
	}
	snap.Events = append(snap.Events, crisis(true))
	if !rs.Check(def.When, &snap) {
		t.Fatalf("three hedged crises should unlock")
	}
}

func TestDiversifiedNeedsBothConditions(t *testing.T) {
	rs := Default()
	def, ok := rs.Definition("diversified")
	if !ok || def.When.Kind != PredAllOf {
		t.Fatalf("diversified should be composite: %+v", def)
	}
	all2 := Holdings{{Asset: AssetProperty, Shares: 2}, {Asset: AssetSolar, Shares: 2}, {Asset: AssetGold, Shares: 2}}
	snap := Snapshot{State: GameState{DaysDiversified: 4}, Holdings: all2}
	if rs.Check(def.When, &snap) {
		t.Fatalf("4 diversified days is not enough")
	}
	snap.State.DaysDiversified = 5
	if !rs.Check(def.When, &snap) {
		t.Fatalf("expected unlock at 5 days")
	}
	snap.Holdings = all2.With("", AssetGold, 1, time.Now())
	if rs.Check(def.When, &snap) {
		t.Fatalf("needs current diversified holdings too")
	}
}

func TestNoSellsForDays(t *testing.T) {
	rs := Default()
	p := Predicate{Kind: PredNoSellsForDays, Threshold: 3}
	snap := Snapshot{State: GameState{Day: 2}}
	if rs.Check(p, &snap) {
		t.Fatalf("day 2 cannot have a 3 day streak")
	}
	snap.State.Day = 5
	snap.Transactions = []Transaction{{Type: TxSell, Day: 3}}
	if rs.Check(p, &snap) {
		t.Fatalf("sell on day 3 breaks the streak at day 5")
	}
	snap.State.Day = 6
	if !rs.Check(p, &snap) {
		t.Fatalf("days 4-6 have no sells")
	}
}

func TestEvaluateAchievementsDailyMission(t *testing.T) {
	rs := Default()
	now := time.Now()
	// Day 2 rotates to the second daily mission, "bought today".
	snap := Snapshot{
		State:    GameState{UserID: "u", Level: 2, Day: 2},
		Holdings: Holdings{{Asset: AssetSolar, Shares: 1}},
		Badges:   []EarnedBadge{{BadgeID: "first-steps"}},
		Missions: []MissionProgress{{ID: "first-share", Status: MissionClaimed}},
		Today:    &DayReport{Day: 2, Action: Action{Type: ActionBuy, Asset: AssetSolar, Shares: 1}},
	}
	u := rs.EvaluateAchievements(snap, now)
	if len(u.Badges) != 0 || u.BadgeXP != 0 {
		t.Fatalf("no new badges expected: %+v", u.Badges)
	}
	if len(u.Missions) != 1 || u.Missions[0].ID != "smart-shopper-day-2" || u.Missions[0].DefinitionID != "smart-shopper" {
		t.Fatalf("expected daily mission instance, got %+v", u.Missions)
	}
	if u.Missions[0].Status != MissionCompleted {
		t.Fatalf("new missions start completed: %+v", u.Missions[0])
	}
	snap.Missions = append(snap.Missions, u.Missions[0])
	if again := rs.EvaluateAchievements(snap, now); len(again.Missions) != 0 {
		t.Fatalf("daily mission unlocked twice: %+v", again.Missions)
	}
}

func TestDailyMissionGate(t *testing.T) {
	rs := Default()
	if _, ok := rs.DailyMissionFor(1, 1); ok {
		t.Fatalf("daily missions start at level 2")
	}
	def, ok := rs.DailyMissionFor(4, 2)
	if !ok || def.ID != "steady-holder" {
		t.Fatalf("day 4 should wrap to the first daily mission, got %+v", def)
	}
}
