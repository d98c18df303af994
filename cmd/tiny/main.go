package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tinyassets/internal/auth"
	cl "tinyassets/internal/cli"
	"tinyassets/internal/config"
	"tinyassets/internal/rules"
	"tinyassets/internal/syncq"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tiny",
		Short:        "TinyAssets, a day-by-day investing game for kids",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newStateCmd(&apiBase),
		newHoldingsCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newWinCmd(&apiBase),
		newIndicatorsCmd(&apiBase),
		newTradeCmd(&apiBase, rules.ActionBuy),
		newTradeCmd(&apiBase, rules.ActionSell),
		newDayCmd(&apiBase),
		newSkipCmd(&apiBase),
		newMissionsCmd(&apiBase),
		newClaimCmd(&apiBase),
		newTutorialCmd(&apiBase),
		newBadgesCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newParentCmd(&apiBase),
		newSyncCmd(&apiBase),
		newPlayCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func saveSession(session auth.Session) error {
	return cl.SaveSession(cl.Session{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		Email:        session.User.Email,
		UserID:       session.User.ID,
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a TinyAssets account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			name, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, name)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `tiny login`.")
				return nil
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess("Signup complete. You start with 15 tokens. Run `tiny play` to begin.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to TinyAssets",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

// readCmd builds a command that fetches one read-only view and renders it.
func readCmd(apiBase *string, use, short string, fetch func(*cl.Client, context.Context, string) (map[string]any, error), render func(map[string]any) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := fetch(newClient(apiBase), ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return render(out)
		},
	}
}

func newStateCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "state", "Show tokens, level and day", (*cl.Client).State, renderState)
}

func newHoldingsCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "holdings", "Show owned shares", (*cl.Client).Holdings, renderHoldings)
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "portfolio", "Show the full portfolio summary", (*cl.Client).Portfolio, func(raw map[string]any) error {
		return renderPortfolio(raw, "PORTFOLIO")
	})
}

func newWinCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "win", "Check whether you have won", (*cl.Client).Win, renderWin)
}

func newIndicatorsCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "indicators", "Show this morning's hints", (*cl.Client).Indicators, renderIndicators)
}

func newMissionsCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "missions", "List missions and their status", (*cl.Client).Missions, renderMissions)
}

func newBadgesCmd(apiBase *string) *cobra.Command {
	return readCmd(apiBase, "badges", "List earned badges", (*cl.Client).Badges, renderBadges)
}

func newTradeCmd(apiBase *string, side rules.ActionType) *cobra.Command {
	verb := "Buy"
	if side == rules.ActionSell {
		verb = "Sell"
	}
	return &cobra.Command{
		Use:   string(side) + " [asset] [shares]",
		Short: verb + " shares right now",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			asset, shares, err := assetAndShares(args, verb)
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Trade(ctx, sess.AccessToken, side, asset, shares, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Kind:           string(side),
					Asset:          asset,
					Shares:         shares,
					IdempotencyKey: idem,
				})
			}
			return renderTrade(out)
		},
	}
}

func newDayCmd(apiBase *string) *cobra.Command {
	var buy, sell string
	var shares, expectedDay int
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Run today with one action (hold by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			action := rules.Hold()
			switch {
			case buy != "" && sell != "":
				return fmt.Errorf("pick one of --buy or --sell")
			case buy != "":
				action = rules.Action{Type: rules.ActionBuy, Asset: rules.AssetID(strings.ToLower(buy)), Shares: shares}
			case sell != "":
				action = rules.Action{Type: rules.ActionSell, Asset: rules.AssetID(strings.ToLower(sell)), Shares: shares}
			}

			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if expectedDay == 0 {
				if raw, err := client.State(ctx, sess.AccessToken); err == nil {
					if st, err := decodeInto[rules.GameState](raw); err == nil {
						expectedDay = st.Day
					}
				}
			}
			idem := uuid.NewString()
			out, err := client.ExecuteDay(ctx, sess.AccessToken, action, expectedDay, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Kind:           "day",
					Action:         &action,
					ExpectedDay:    expectedDay,
					IdempotencyKey: idem,
				})
			}
			return renderDay(out)
		},
	}
	cmd.Flags().StringVar(&buy, "buy", "", "asset to buy today")
	cmd.Flags().StringVar(&sell, "sell", "", "asset to sell today")
	cmd.Flags().IntVar(&shares, "shares", 1, "shares to trade")
	cmd.Flags().IntVar(&expectedDay, "expected-day", 0, "refuse to run unless this is the current day")
	return cmd
}

func newSkipCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip straight to the evening, holding everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SkipDay(ctx, sess.AccessToken, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Kind: "skip", IdempotencyKey: idem})
			}
			return renderDay(out)
		},
	}
}

func newClaimCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim [mission-id]",
		Short: "Claim a completed mission's reward",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			var missionID string
			if len(args) > 0 {
				missionID = strings.TrimSpace(args[0])
			} else if missionID, err = promptRequired("Mission id"); err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ClaimMission(ctx, sess.AccessToken, missionID, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{Kind: "claim", MissionID: missionID, IdempotencyKey: idem})
			}
			return renderClaim(out)
		},
	}
}

func newTutorialCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tutorial",
		Short: "Mark the tutorial as finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CompleteTutorial(ctx, sess.AccessToken, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Tutorial complete.")
			progress, err := decodeInto[struct {
				Unlocks rules.Unlocks `json:"unlocks"`
				XP      rules.XPGain  `json:"xp"`
			}](out)
			if err != nil {
				return err
			}
			printUnlocks(progress.Unlocks, progress.XP)
			return nil
		},
	}
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "history [events|transactions|production]",
		Short:     "Show recent history, newest first",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"events", "transactions", "production"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			kind := "events"
			if len(args) > 0 {
				kind = strings.ToLower(strings.TrimSpace(args[0]))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).History(ctx, sess.AccessToken, kind, limit)
			if err != nil {
				return err
			}
			return renderHistory(kind, out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	return cmd
}

func newParentCmd(apiBase *string) *cobra.Command {
	parent := &cobra.Command{
		Use:   "parent",
		Short: "Parent dashboard access",
	}
	parent.AddCommand(
		&cobra.Command{
			Use:   "setup",
			Short: "Create the parent PIN",
			RunE: func(cmd *cobra.Command, args []string) error {
				return parentPINCommand(cmd, apiBase, (*cl.Client).ParentSetup)
			},
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Replace the parent PIN",
			RunE: func(cmd *cobra.Command, args []string) error {
				return parentPINCommand(cmd, apiBase, (*cl.Client).ParentRotate)
			},
		},
		&cobra.Command{
			Use:   "profile",
			Short: "Open the parent view of this portfolio",
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := requireSession()
				if err != nil {
					return err
				}
				pin, err := promptSecret("Parent PIN")
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				out, err := newClient(apiBase).ParentProfile(ctx, sess.AccessToken, pin)
				if err != nil {
					return err
				}
				return renderPortfolio(out, "PARENT VIEW")
			},
		},
	)
	return parent
}

func parentPINCommand(cmd *cobra.Command, apiBase *string, call func(*cl.Client, context.Context, string) (map[string]any, error)) error {
	sess, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out, err := call(newClient(apiBase), ctx, sess.AccessToken)
	if err != nil {
		return err
	}
	return renderParentPIN(out)
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes to the cloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SyncReplay(ctx, sess.AccessToken, queue)
			if err != nil {
				return err
			}
			results, err := renderReplay(out)
			if err != nil {
				return err
			}
			// Rejected commands will never succeed, so they leave the queue
			// along with applied and duplicate ones.
			done := make(map[string]bool, len(results))
			for _, r := range results {
				done[r.IdempotencyKey] = true
			}
			remaining, err := syncq.Settle(done)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", len(results), len(remaining)))
			return nil
		},
	}
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed (%v) and could not be queued: %w", err, qerr)
	}
	printWarn(fmt.Sprintf("Offline: %s queued. Run `tiny sync` when you are back online.", q.Kind))
	return nil
}

func assetAndShares(args []string, verb string) (rules.AssetID, int, error) {
	var asset rules.AssetID
	var err error
	if len(args) > 0 {
		asset = rules.AssetID(strings.ToLower(strings.TrimSpace(args[0])))
	} else if asset, err = promptAsset("Asset to " + strings.ToLower(verb)); err != nil {
		return "", 0, err
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid share count")
		}
		return asset, n, nil
	}
	n, err := promptInt("Shares", 1)
	return asset, n, err
}
