package rules

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Phase string

const (
	PhaseMorning Phase = "morning"
	PhaseMidday  Phase = "midday"
	PhaseEvening Phase = "evening"
	PhaseNight   Phase = "night"
)

func (p Phase) Next() Phase {
	switch p {
	case PhaseMorning:
		return PhaseMidday
	case PhaseMidday:
		return PhaseEvening
	case PhaseEvening:
		return PhaseNight
	default:
		return PhaseMorning
	}
}

type ActionType string

const (
	ActionHold ActionType = "hold"
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
)

// Action is the single choice a player makes at midday.
type Action struct {
	Type   ActionType `json:"type"`
	Asset  AssetID    `json:"asset,omitempty"`
	Shares int        `json:"shares,omitempty"`
}

func Hold() Action { return Action{Type: ActionHold} }

// ValidateAction normalizes a and rejects malformed input before anything is
// mutated. An empty type means hold.
func (rs *Ruleset) ValidateAction(a Action) (Action, error) {
	a.Type = ActionType(strings.ToLower(strings.TrimSpace(string(a.Type))))
	switch a.Type {
	case "", ActionHold:
		return Hold(), nil
	case ActionBuy, ActionSell:
		id, err := rs.ParseAssetID(string(a.Asset))
		if err != nil {
			return Action{}, err
		}
		if a.Shares <= 0 || a.Shares > rs.MaxShares {
			return Action{}, fmt.Errorf("%w: %d", ErrInvalidShareCount, a.Shares)
		}
		return Action{Type: a.Type, Asset: id, Shares: a.Shares}, nil
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrInvalidAction, a.Type)
	}
}

// TradeOutcome is the result of a buy or sell applied outside a day.
type TradeOutcome struct {
	State       GameState   `json:"state"`
	Holdings    Holdings    `json:"holdings"`
	Transaction Transaction `json:"transaction"`
	Unlocks     Unlocks     `json:"unlocks"`
	XP          XPGain      `json:"xp"`
}

func (rs *Ruleset) applyTrade(state GameState, h Holdings, a Action, now time.Time) (GameState, Holdings, Transaction, error) {
	current := h.Shares(a.Asset)
	var amount int64
	var next int
	var err error
	switch a.Type {
	case ActionBuy:
		amount, err = rs.CheckBuy(state.Tokens, current, a.Asset, a.Shares)
		state.Tokens -= amount
		next = current + a.Shares
	case ActionSell:
		amount, err = rs.CheckSell(current, a.Asset, a.Shares)
		state.Tokens += amount
		next = current - a.Shares
	default:
		err = fmt.Errorf("%w: %q is not a trade", ErrInvalidAction, a.Type)
	}
	if err != nil {
		return GameState{}, nil, Transaction{}, err
	}
	state.UpdatedAt = now
	tx := Transaction{
		UserID:           state.UserID,
		Day:              state.Day,
		Type:             TxType(a.Type),
		Asset:            a.Asset,
		Shares:           a.Shares,
		Amount:           amount,
		OwnershipPercent: rs.OwnershipPercent(next),
		CreatedAt:        now,
	}
	return state, h.With(state.UserID, a.Asset, next, now), tx, nil
}

// Trade applies a buy or sell to snap and evaluates achievements against the
// result. The day counter does not move.
func (rs *Ruleset) Trade(snap Snapshot, a Action, now time.Time) (TradeOutcome, error) {
	a, err := rs.ValidateAction(a)
	if err != nil {
		return TradeOutcome{}, err
	}
	state, holdings, tx, err := rs.applyTrade(snap.State, snap.Holdings, a, now)
	if err != nil {
		return TradeOutcome{}, err
	}
	startXP := state.XP
	snap.State = state
	snap.Holdings = holdings
	snap.Transactions = append(slices.Clone(snap.Transactions), tx)
	snap.Today = nil
	unlocks := rs.EvaluateAchievements(snap, now)
	state.XP += unlocks.BadgeXP
	state.Level = rs.LevelFromXP(state.XP)
	return TradeOutcome{
		State:       state,
		Holdings:    holdings,
		Transaction: tx,
		Unlocks:     unlocks,
		XP:          rs.AddXP(startXP, unlocks.BadgeXP),
	}, nil
}

// DayInput is everything ExecuteDay needs. Rand supplies every random draw.
type DayInput struct {
	Snapshot Snapshot
	Action   Action
	Now      time.Time
	Rand     RandomSource
}

// DayOutcome is the new state plus every effect one executed day produced.
// The caller persists all of it together or none of it.
type DayOutcome struct {
	Day              int                `json:"day"`
	Action           Action             `json:"action"`
	Transaction      *Transaction       `json:"transaction,omitempty"`
	Production       []ProductionRecord `json:"production"`
	ProductionEarned int64              `json:"production_earned"`
	Event            *EventOutcome      `json:"event,omitempty"`
	EventRecord      *EventRecord       `json:"-"`
	Combo            int                `json:"combo"`
	Unlocks          Unlocks            `json:"unlocks"`
	XP               XPGain             `json:"xp"`
	State            GameState          `json:"state"`
	Holdings         Holdings           `json:"holdings"`
	Win              WinStatus          `json:"win"`
}

// ExecuteDay runs one day in fixed order: action, production, event,
// achievements, day increment. It does not mutate in.
func (rs *Ruleset) ExecuteDay(in DayInput) (DayOutcome, error) {
	action, err := rs.ValidateAction(in.Action)
	if err != nil {
		return DayOutcome{}, err
	}
	state := in.Snapshot.State
	holdings := slices.Clone(in.Snapshot.Holdings)
	startXP := state.XP
	out := DayOutcome{Day: state.Day, Action: action, Combo: 1}

	if action.Type != ActionHold {
		next, h, tx, err := rs.applyTrade(state, holdings, action, in.Now)
		if err != nil {
			return DayOutcome{}, err
		}
		state, holdings = next, h
		out.Transaction = &tx
	}

	for _, a := range rs.Assets {
		shares := holdings.Shares(a.ID)
		if shares <= 0 {
			continue
		}
		tokens := rs.DailyProduction(a.ID, shares)
		out.Production = append(out.Production, ProductionRecord{
			UserID:    state.UserID,
			Day:       state.Day,
			Asset:     a.ID,
			Shares:    shares,
			Tokens:    tokens,
			CreatedAt: in.Now,
		})
		out.ProductionEarned += tokens
	}
	state.Tokens += out.ProductionEarned

	if rs.ShouldTriggerToday(state.Day, in.Rand) {
		ev := rs.SelectEvent(in.Rand)
		eo := rs.ApplyEvent(ev, holdings, state.Tokens)
		var last time.Time
		if state.LastEventAt != nil {
			last = *state.LastEventAt
		}
		out.Combo = rs.ComboMultiplier(last, in.Now)
		xp := eo.XP * int64(out.Combo)
		state.Tokens += eo.TokenDelta
		state.XP += xp
		firedAt := in.Now
		state.LastEventAt = &firedAt
		out.Event = &eo
		out.EventRecord = &EventRecord{
			UserID:      state.UserID,
			Day:         state.Day,
			Name:        ev.Name,
			Category:    ev.Category,
			Description: ev.Description,
			TokenDelta:  eo.TokenDelta,
			XPAwarded:   xp,
			Combo:       out.Combo,
			Impacts:     eo.Impacts,
			CreatedAt:   in.Now,
		}
	}

	if rs.diversified(holdings) {
		state.DaysDiversified++
	}
	state.Level = rs.LevelFromXP(state.XP)

	snap := in.Snapshot
	snap.State = state
	snap.Holdings = holdings
	snap.Production = append(slices.Clone(snap.Production), out.Production...)
	if out.Transaction != nil {
		snap.Transactions = append(slices.Clone(snap.Transactions), *out.Transaction)
	}
	if out.EventRecord != nil {
		snap.Events = append(slices.Clone(snap.Events), *out.EventRecord)
	}
	snap.Today = &DayReport{Day: state.Day, Action: action, Produced: out.ProductionEarned, Event: out.EventRecord}
	out.Unlocks = rs.EvaluateAchievements(snap, in.Now)
	state.XP += out.Unlocks.BadgeXP
	state.Level = rs.LevelFromXP(state.XP)

	state.Day++
	state.UpdatedAt = in.Now
	out.XP = rs.AddXP(startXP, state.XP-startXP)
	out.State = state
	out.Holdings = holdings
	out.Win = rs.CheckWin(state, holdings)
	return out, nil
}

// diversified reports whether every asset is at least half owned.
func (rs *Ruleset) diversified(h Holdings) bool {
	half := (rs.MaxShares + 1) / 2
	for _, a := range rs.Assets {
		if h.Shares(a.ID) < half {
			return false
		}
	}
	return true
}

const (
	WinLevel     = "level"
	WinTokens    = "tokens"
	WinAllShares = "all_shares"
)

type WinStatus struct {
	Won     bool     `json:"won"`
	Reasons []string `json:"reasons,omitempty"`
}

// CheckWin is a read-only query; it never changes state.
func (rs *Ruleset) CheckWin(state GameState, h Holdings) WinStatus {
	var ws WinStatus
	if rs.Win.Level > 0 && state.Level >= rs.Win.Level {
		ws.Reasons = append(ws.Reasons, WinLevel)
	}
	if rs.Win.Tokens > 0 && state.Tokens >= rs.Win.Tokens {
		ws.Reasons = append(ws.Reasons, WinTokens)
	}
	full := true
	for _, a := range rs.Assets {
		if h.Shares(a.ID) < rs.MaxShares {
			full = false
			break
		}
	}
	if full {
		ws.Reasons = append(ws.Reasons, WinAllShares)
	}
	ws.Won = len(ws.Reasons) > 0
	return ws
}

// Cycle is the presentation-side phase machine for one day. Only Complete
// records results; choosing an action changes nothing persistent.
type Cycle struct {
	Day        int               `json:"day"`
	Phase      Phase             `json:"phase"`
	Indicators MorningIndicators `json:"indicators"`
	Selected   *Action           `json:"selected,omitempty"`
	Result     *DayOutcome       `json:"result,omitempty"`
}

func NewCycle(day int, ind MorningIndicators) Cycle {
	return Cycle{Day: day, Phase: PhaseMorning, Indicators: ind}
}

func (c *Cycle) expect(p Phase) error {
	if c.Phase != p {
		return fmt.Errorf("%w: in %s, need %s", ErrWrongPhase, c.Phase, p)
	}
	return nil
}

// OpenMarket moves morning to midday.
func (c *Cycle) OpenMarket() error {
	if err := c.expect(PhaseMorning); err != nil {
		return err
	}
	c.Phase = PhaseMidday
	return nil
}

// Select records the midday choice. It can be changed until Complete.
func (c *Cycle) Select(a Action) error {
	if err := c.expect(PhaseMidday); err != nil {
		return err
	}
	c.Selected = &a
	return nil
}

// Skip selects hold from morning or midday so the day can run at once.
func (c *Cycle) Skip() error {
	if c.Phase == PhaseMorning {
		c.Phase = PhaseMidday
	}
	return c.Select(Hold())
}

// Pending is the action Complete should execute.
func (c *Cycle) Pending() Action {
	if c.Selected == nil {
		return Hold()
	}
	return *c.Selected
}

// Complete stores the executed day's outcome and moves to evening.
func (c *Cycle) Complete(out DayOutcome) error {
	if err := c.expect(PhaseMidday); err != nil {
		return err
	}
	c.Result = &out
	c.Phase = PhaseEvening
	return nil
}

func (c *Cycle) Rest() error {
	if err := c.expect(PhaseEvening); err != nil {
		return err
	}
	c.Phase = PhaseNight
	return nil
}

// Wake starts the next morning. It clears the per-day selection and results;
// day is the already incremented counter from the stored state.
func (c *Cycle) Wake(day int, ind MorningIndicators) error {
	if err := c.expect(PhaseNight); err != nil {
		return err
	}
	*c = NewCycle(day, ind)
	return nil
}
