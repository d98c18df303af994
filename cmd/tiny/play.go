package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "tinyassets/internal/cli"
	"tinyassets/internal/game"
	"tinyassets/internal/rules"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	phaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 1)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	pickStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

func newPlayCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play day by day: morning hints, midday choice, evening results",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			m := newPlayModel(cmd.Context(), newClient(apiBase), sess.AccessToken)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type indicatorsMsg struct{ view game.IndicatorsView }

type dayMsg struct{ out rules.DayOutcome }

type errMsg struct{ err error }

type playModel struct {
	ctx    context.Context
	client *cl.Client
	token  string

	cycle   rules.Cycle
	started bool
	assets  []rules.AssetDefinition
	picked  int

	loading  bool
	spinner  spinner.Model
	entering rules.ActionType
	shares   textinput.Model

	lastErr error
}

func newPlayModel(ctx context.Context, client *cl.Client, token string) *playModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	in := textinput.New()
	in.Placeholder = "shares"
	in.CharLimit = 3
	in.Width = 6

	return &playModel{
		ctx:     ctx,
		client:  client,
		token:   token,
		assets:  rules.Default().Assets,
		loading: true,
		spinner: sp,
		shares:  in,
	}
}

func (m *playModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchIndicators())
}

func (m *playModel) fetchIndicators() tea.Cmd {
	ctx, client, token := m.ctx, m.client, m.token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		raw, err := client.Indicators(ctx, token)
		if err != nil {
			return errMsg{err}
		}
		view, err := decodeInto[game.IndicatorsView](raw)
		if err != nil {
			return errMsg{err}
		}
		return indicatorsMsg{view}
	}
}

// runDay executes the pending action. skip uses the dedicated endpoint so the
// server records it as a skipped day.
func (m *playModel) runDay(skip bool) tea.Cmd {
	ctx, client, token := m.ctx, m.client, m.token
	action, day := m.cycle.Pending(), m.cycle.Day
	m.loading = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		var raw map[string]any
		var err error
		if skip {
			raw, err = client.SkipDay(ctx, token, uuid.NewString())
		} else {
			raw, err = client.ExecuteDay(ctx, token, action, day, uuid.NewString())
		}
		if err != nil {
			return errMsg{err}
		}
		out, err := decodeInto[rules.DayOutcome](raw)
		if err != nil {
			return errMsg{err}
		}
		return dayMsg{out}
	}
}

func (m *playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case indicatorsMsg:
		m.loading = false
		if m.started && m.cycle.Phase == rules.PhaseNight {
			m.lastErr = m.cycle.Wake(msg.view.Day, msg.view.Indicators)
		} else {
			m.cycle = rules.NewCycle(msg.view.Day, msg.view.Indicators)
			m.started = true
		}
		return m, nil

	case dayMsg:
		m.loading = false
		m.lastErr = m.cycle.Complete(msg.out)
		return m, nil

	case errMsg:
		m.loading = false
		m.lastErr = msg.err
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.entering != "" {
			return m.updateShares(msg)
		}
		if msg.String() == "q" {
			return m, tea.Quit
		}
		if m.loading || !m.started {
			return m, nil
		}
		m.lastErr = nil
		return m.updatePhase(msg)
	}
	return m, nil
}

func (m *playModel) updateShares(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.entering = ""
		m.shares.Blur()
		return m, nil
	case "enter":
		n, err := strconv.Atoi(strings.TrimSpace(m.shares.Value()))
		if err != nil || n <= 0 {
			m.lastErr = fmt.Errorf("enter a whole number of shares")
			return m, nil
		}
		m.lastErr = m.cycle.Select(rules.Action{Type: m.entering, Asset: m.assets[m.picked].ID, Shares: n})
		m.entering = ""
		m.shares.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.shares, cmd = m.shares.Update(msg)
	return m, cmd
}

func (m *playModel) updatePhase(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.cycle.Phase {
	case rules.PhaseMorning:
		switch key {
		case "enter":
			m.lastErr = m.cycle.OpenMarket()
		case "k":
			if m.lastErr = m.cycle.Skip(); m.lastErr == nil {
				return m, tea.Batch(m.spinner.Tick, m.runDay(true))
			}
		}

	case rules.PhaseMidday:
		switch key {
		case "left":
			m.picked = (m.picked + len(m.assets) - 1) % len(m.assets)
		case "right":
			m.picked = (m.picked + 1) % len(m.assets)
		case "b", "s":
			m.entering = rules.ActionBuy
			if key == "s" {
				m.entering = rules.ActionSell
			}
			m.shares.SetValue("1")
			return m, m.shares.Focus()
		case "h":
			m.lastErr = m.cycle.Select(rules.Hold())
		case "k":
			if m.lastErr = m.cycle.Skip(); m.lastErr == nil {
				return m, tea.Batch(m.spinner.Tick, m.runDay(true))
			}
		case "enter":
			return m, tea.Batch(m.spinner.Tick, m.runDay(false))
		}

	case rules.PhaseEvening:
		if key == "enter" {
			m.lastErr = m.cycle.Rest()
		}

	case rules.PhaseNight:
		if key == "enter" {
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchIndicators())
		}
	}
	return m, nil
}

func (m *playModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TinyAssets"))
	if m.started {
		b.WriteString(" " + phaseStyle.Render(fmt.Sprintf("Day %d · %s", m.cycle.Day, m.cycle.Phase)))
	}
	b.WriteString("\n\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " working...\n")
	case !m.started:
		b.WriteString(mutedStyle.Render("Could not load the morning.") + "\n")
	default:
		b.WriteString(m.phaseView())
	}

	if m.lastErr != nil {
		b.WriteString("\n" + badStyle.Render(m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render(m.help()) + "\n")
	return b.String()
}

func (m *playModel) phaseView() string {
	switch m.cycle.Phase {
	case rules.PhaseMorning:
		ind := m.cycle.Indicators
		return panelStyle.Render(fmt.Sprintf(
			"Good morning!\n\nWeather:     %s\nEconomy:     %s\nCrisis risk: %s (%d%%)",
			ind.Weather, ind.Economy, ind.CrisisRisk, ind.CrisisPercent,
		)) + "\n"

	case rules.PhaseMidday:
		var b strings.Builder
		b.WriteString("The market is open. Pick one action for today.\n\n")
		for i, a := range m.assets {
			label := fmt.Sprintf("%s %s (%d)", a.Emoji, a.Name, a.CostPerShare)
			if i == m.picked {
				label = pickStyle.Render("[" + label + "]")
			} else {
				label = " " + label + " "
			}
			b.WriteString(label + " ")
		}
		b.WriteString("\n\n")
		if m.entering != "" {
			b.WriteString(fmt.Sprintf("%s %s: %s\n", m.entering, m.assets[m.picked].Name, m.shares.View()))
		}
		p := m.cycle.Pending()
		choice := "hold"
		if p.Type != rules.ActionHold {
			choice = fmt.Sprintf("%s %d %s", p.Type, p.Shares, p.Asset)
		}
		b.WriteString("Today's choice: " + pickStyle.Render(choice) + "\n")
		return panelStyle.Render(b.String()) + "\n"

	case rules.PhaseEvening:
		return panelStyle.Render(eveningView(m.cycle.Result)) + "\n"

	default:
		return panelStyle.Render("The town is asleep. Tomorrow brings new hints.") + "\n"
	}
}

func eveningView(out *rules.DayOutcome) string {
	if out == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Evening of day %d\n\n", out.Day)
	if tx := out.Transaction; tx != nil {
		fmt.Fprintf(&b, "Trade:      %s %d %s for %d\n", tx.Type, tx.Shares, tx.Asset, tx.Amount)
	}
	fmt.Fprintf(&b, "Production: %s\n", styledDelta(out.ProductionEarned))
	if ev := out.Event; ev != nil {
		fmt.Fprintf(&b, "Event:      %s\n", pickStyle.Render(ev.Event.Name))
		fmt.Fprintf(&b, "            %s\n", ev.Event.Description)
		fmt.Fprintf(&b, "Impact:     %s", styledDelta(ev.TokenDelta))
		if out.Combo > 1 {
			fmt.Fprintf(&b, " (combo x%d)", out.Combo)
		}
		b.WriteString("\n")
		if ev.Event.Lesson != "" {
			b.WriteString(mutedStyle.Render("Lesson: "+ev.Event.Lesson) + "\n")
		}
	} else {
		b.WriteString(mutedStyle.Render("A quiet day.") + "\n")
	}
	fmt.Fprintf(&b, "Tokens:     %d   Level: %d   XP: %d\n", out.State.Tokens, out.State.Level, out.State.XP)
	for _, badge := range out.Unlocks.Badges {
		b.WriteString(goodStyle.Render(fmt.Sprintf("Badge: %s %s", badge.Emoji, badge.Name)) + "\n")
	}
	for _, mission := range out.Unlocks.Missions {
		b.WriteString(goodStyle.Render("Mission complete: "+mission.ID) + "\n")
	}
	if out.XP.LeveledUp {
		b.WriteString(goodStyle.Render(fmt.Sprintf("Level up! Now level %d.", out.XP.NewLevel)) + "\n")
	}
	if out.Win.Won {
		b.WriteString(goodStyle.Render("You won! "+strings.Join(out.Win.Reasons, ", ")) + "\n")
	}
	return b.String()
}

func styledDelta(v int64) string {
	switch {
	case v > 0:
		return goodStyle.Render(fmt.Sprintf("+%d", v))
	case v < 0:
		return badStyle.Render(fmt.Sprintf("%d", v))
	default:
		return mutedStyle.Render("0")
	}
}

func (m *playModel) help() string {
	if m.entering != "" {
		return "enter confirm · esc cancel"
	}
	switch m.cycle.Phase {
	case rules.PhaseMorning:
		return "enter open market · k skip day · q quit"
	case rules.PhaseMidday:
		return "←/→ asset · b buy · s sell · h hold · enter run day · k skip · q quit"
	case rules.PhaseEvening:
		return "enter go to sleep · q quit"
	default:
		return "enter wake up · q quit"
	}
}
