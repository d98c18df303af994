package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	"tinyassets/internal/game"
	"tinyassets/internal/rules"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type holdingsPayload struct {
	Holdings []game.HoldingView `json:"holdings"`
}

type missionsPayload struct {
	Missions []game.MissionView `json:"missions"`
}

type badgesPayload struct {
	Badges []game.BadgeView `json:"badges"`
}

type eventsPayload struct {
	Events []rules.EventRecord `json:"events"`
}

type transactionsPayload struct {
	Transactions []rules.Transaction `json:"transactions"`
}

type productionPayload struct {
	Production []rules.ProductionRecord `json:"production"`
}

type replayPayload struct {
	Results []game.ReplayResult `json:"results"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptSecret hides input on a terminal and falls back to a plain read when
// stdin is piped.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(string(raw))
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt(label string, min int) (int, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptAsset(label string) (rules.AssetID, error) {
	for {
		text, err := promptRequired(label + " (" + strings.Join(assetNames(), "/") + ")")
		if err != nil {
			return "", err
		}
		id := rules.AssetID(strings.ToLower(text))
		if _, err := rules.Default().Asset(id); err != nil {
			printWarn(err.Error())
			continue
		}
		return id, nil
	}
}

func assetNames() []string {
	assets := rules.Default().Assets
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, string(a.ID))
	}
	return out
}

func renderState(raw map[string]any) error {
	st, err := decodeInto[rules.GameState](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== DAY %d ==\n", st.Day)
	fmt.Printf("Tokens:  %s\n", tokens(st.Tokens))
	fmt.Printf("Level:   %d (%d XP)\n", st.Level, st.XP)
	if !st.TutorialComplete {
		printWarn("Tutorial not finished yet. Run `tiny tutorial` when you are done.")
	}
	fmt.Println()
	return nil
}

func renderHoldings(raw map[string]any) error {
	payload, err := decodeInto[holdingsPayload](raw)
	if err != nil {
		return err
	}
	printHoldings(payload.Holdings)
	return nil
}

func printHoldings(rows []game.HoldingView) {
	accent.Println("Holdings")
	fmt.Printf("%-3s %-12s %7s %6s %10s %10s\n", "", "ASSET", "SHARES", "OWN", "PER DAY", "SELLS FOR")
	for _, h := range rows {
		fmt.Printf("%-3s %-12s %7d %5d%% %10d %10d\n",
			h.Emoji, truncate(h.Name, 12), h.Shares, h.OwnershipPercent, h.DailyProduction, h.SaleValue)
	}
	fmt.Println()
}

func renderPortfolio(raw map[string]any, title string) error {
	p, err := decodeInto[game.Portfolio](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", title)
	fmt.Printf("Day:                 %d\n", p.Day)
	fmt.Printf("Tokens:              %s\n", tokens(p.Tokens))
	if p.NextLevelXP > 0 {
		fmt.Printf("Level:               %d (%d / %d XP)\n", p.Level, p.XP, p.NextLevelXP)
	} else {
		fmt.Printf("Level:               %d (%d XP, max)\n", p.Level, p.XP)
	}
	fmt.Printf("Earning per day:     %d\n", p.DailyProductionRate)
	fmt.Printf("Earned so far:       %d\n", p.TotalProductionEarned)
	fmt.Printf("Crisis protection:   %d\n", p.CrisisProtection)
	fmt.Printf("Badges:              %d\n", p.BadgesEarned)
	fmt.Printf("Missions:            %d done, %d claimed\n", p.MissionsCompleted, p.MissionsClaimed)
	fmt.Printf("Events seen:         %d\n", p.EventsSeen)
	fmt.Println()
	printHoldings(p.Holdings)
	printWin(p.Win)
	return nil
}

func renderTrade(raw map[string]any) error {
	out, err := decodeInto[rules.TradeOutcome](raw)
	if err != nil {
		return err
	}
	tx := out.Transaction
	verb := "Bought"
	if tx.Type == rules.TxSell {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %d %s share(s) for %d tokens. You now own %d%%.", verb, tx.Shares, tx.Asset, tx.Amount, tx.OwnershipPercent))
	fmt.Printf("Tokens: %s\n", tokens(out.State.Tokens))
	printUnlocks(out.Unlocks, out.XP)
	return nil
}

func renderDay(raw map[string]any) error {
	out, err := decodeInto[rules.DayOutcome](raw)
	if err != nil {
		return err
	}
	printDay(out)
	return nil
}

func printDay(out rules.DayOutcome) {
	accent.Printf("\n== EVENING OF DAY %d ==\n", out.Day)
	if out.Transaction != nil {
		fmt.Printf("Trade:       %s %d %s for %d tokens\n", out.Transaction.Type, out.Transaction.Shares, out.Transaction.Asset, out.Transaction.Amount)
	}
	fmt.Printf("Production:  %s\n", signed(out.ProductionEarned))
	if ev := out.Event; ev != nil {
		warn.Printf("Event:       %s\n", ev.Event.Name)
		fmt.Printf("             %s\n", ev.Event.Description)
		if ev.Event.Lesson != "" {
			neutral.Printf("             Lesson: %s\n", ev.Event.Lesson)
		}
		fmt.Printf("Impact:      %s tokens", signed(ev.TokenDelta))
		if ev.XP > 0 {
			fmt.Printf(", +%d XP", ev.XP)
		}
		if out.Combo > 1 {
			fmt.Printf(" (combo x%d)", out.Combo)
		}
		fmt.Println()
	} else {
		printInfo("A quiet day. No event.")
	}
	fmt.Printf("Tokens:      %s\n", tokens(out.State.Tokens))
	printUnlocks(out.Unlocks, out.XP)
	printWin(out.Win)
}

func printUnlocks(u rules.Unlocks, xp rules.XPGain) {
	for _, b := range u.Badges {
		success.Printf("Badge earned: %s %s (+%d XP)\n", b.Emoji, b.Name, b.RewardXP)
	}
	for _, m := range u.Missions {
		success.Printf("Mission complete: %s. Claim it with `tiny claim %s`\n", m.ID, m.ID)
	}
	if xp.LeveledUp {
		success.Printf("Level up! You reached level %d.\n", xp.NewLevel)
	}
}

func printWin(ws rules.WinStatus) {
	if !ws.Won {
		return
	}
	success.Printf("You won! (%s)\n", strings.Join(ws.Reasons, ", "))
}

func renderWin(raw map[string]any) error {
	ws, err := decodeInto[rules.WinStatus](raw)
	if err != nil {
		return err
	}
	if !ws.Won {
		printInfo("Not yet. Keep building your portfolio.")
		return nil
	}
	printWin(ws)
	return nil
}

func renderIndicators(raw map[string]any) error {
	v, err := decodeInto[game.IndicatorsView](raw)
	if err != nil {
		return err
	}
	printIndicators(v)
	return nil
}

func printIndicators(v game.IndicatorsView) {
	accent.Printf("\n== MORNING OF DAY %d ==\n", v.Day)
	fmt.Printf("Weather:      %s\n", v.Indicators.Weather)
	fmt.Printf("Economy:      %s\n", v.Indicators.Economy)
	fmt.Printf("Crisis risk:  %s (%d%%)\n", v.Indicators.CrisisRisk, v.Indicators.CrisisPercent)
	fmt.Printf("Event chance: %d%%\n\n", v.EventChancePercent)
}

func renderMissions(raw map[string]any) error {
	payload, err := decodeInto[missionsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("Missions")
	fmt.Printf("%-3s %-28s %-12s %8s %6s\n", "", "MISSION", "STATUS", "TOKENS", "XP")
	for _, m := range payload.Missions {
		status := neutral.Sprint(m.Status)
		switch m.Status {
		case string(rules.MissionCompleted):
			status = success.Sprint("ready")
		case game.MissionLocked:
			status = danger.Sprintf("lvl %d", m.MinLevel)
		}
		fmt.Printf("%-3s %-28s %-12s %8d %6d\n", m.Emoji, truncate(m.ID, 28), status, m.RewardTokens, m.RewardXP)
	}
	fmt.Println()
	return nil
}

func renderClaim(raw map[string]any) error {
	out, err := decodeInto[game.ClaimResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Claimed %s: +%d tokens, +%d XP.", out.MissionID, out.TokensAwarded, out.XPAwarded))
	printUnlocks(out.Unlocks, out.XP)
	return nil
}

func renderBadges(raw map[string]any) error {
	payload, err := decodeInto[badgesPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("Badges")
	if len(payload.Badges) == 0 {
		printInfo("No badges yet.")
		return nil
	}
	for _, b := range payload.Badges {
		fmt.Printf("%-3s %-24s day %-4d %s\n", b.Emoji, b.Name, b.Day, b.Description)
	}
	fmt.Println()
	return nil
}

func renderHistory(kind string, raw map[string]any) error {
	switch kind {
	case "events":
		payload, err := decodeInto[eventsPayload](raw)
		if err != nil {
			return err
		}
		accent.Println("Events")
		for _, e := range payload.Events {
			fmt.Printf("day %-4d %-10s %-28s %s\n", e.Day, e.Category, truncate(e.Name, 28), signed(e.TokenDelta))
		}
	case "transactions":
		payload, err := decodeInto[transactionsPayload](raw)
		if err != nil {
			return err
		}
		accent.Println("Transactions")
		for _, tx := range payload.Transactions {
			fmt.Printf("day %-4d %-5s %-10s %4d share(s) %6d tokens\n", tx.Day, tx.Type, tx.Asset, tx.Shares, tx.Amount)
		}
	case "production":
		payload, err := decodeInto[productionPayload](raw)
		if err != nil {
			return err
		}
		accent.Println("Production")
		for _, p := range payload.Production {
			fmt.Printf("day %-4d %-10s %4d share(s) %s\n", p.Day, p.Asset, p.Shares, signed(p.Tokens))
		}
	default:
		return fmt.Errorf("unknown history %q", kind)
	}
	fmt.Println()
	return nil
}

// renderParentPIN shows the PIN once, as text and as a QR code a parent can
// scan from their phone.
func renderParentPIN(raw map[string]any) error {
	out, err := decodeInto[game.ParentAccess](raw)
	if err != nil {
		return err
	}
	if out.Rotated {
		printSuccess("Parent PIN rotated. The old PIN no longer works.")
	} else {
		printSuccess("Parent access ready.")
	}
	accent.Printf("PIN: %s\n", out.PIN)
	qrterminal.GenerateHalfBlock(out.PIN, qrterminal.L, os.Stdout)
	printWarn("This PIN is shown only once.")
	return nil
}

func renderReplay(raw map[string]any) ([]game.ReplayResult, error) {
	payload, err := decodeInto[replayPayload](raw)
	if err != nil {
		return nil, err
	}
	for _, r := range payload.Results {
		switch r.Status {
		case game.ReplayApplied:
			printSuccess(fmt.Sprintf("%-6s %s applied", r.Kind, r.IdempotencyKey))
		case game.ReplayDuplicate:
			printInfo(fmt.Sprintf("%-6s %s already applied", r.Kind, r.IdempotencyKey))
		default:
			printError(fmt.Sprintf("%-6s %s rejected: %s", r.Kind, r.IdempotencyKey, r.Error))
		}
	}
	return payload.Results, nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func tokens(v int64) string {
	return accent.Sprintf("%d", v)
}

func signed(v int64) string {
	text := strconv.FormatInt(v, 10)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
