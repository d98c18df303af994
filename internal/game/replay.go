package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tinyassets/internal/rules"
)

// ReplaySync applies commands queued offline, in order. Each command keeps
// the idempotency key it was queued with, so a command that already reached
// the server is reported as a duplicate instead of running twice. A rejected
// command does not stop the rest of the batch.
func (s *Service) ReplaySync(ctx context.Context, userID string, commands []ReplayCommand) ([]ReplayResult, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if len(commands) > maxReplayCommands {
		return nil, fmt.Errorf("%w: at most %d commands per replay", rules.ErrInvalidAction, maxReplayCommands)
	}
	results := make([]ReplayResult, 0, len(commands))
	for _, cmd := range commands {
		res := ReplayResult{Kind: cmd.Kind, IdempotencyKey: cmd.IdempotencyKey}
		if strings.TrimSpace(cmd.IdempotencyKey) == "" {
			res.Status = ReplayRejected
			res.Error = "idempotency key is required"
			results = append(results, res)
			continue
		}
		day, err := s.replayOne(ctx, userID, cmd)
		switch {
		case err == nil:
			res.Status = ReplayApplied
			res.Day = day
		case errors.Is(err, ErrDuplicateIdempotency):
			res.Status = ReplayDuplicate
		case ctx.Err() != nil:
			return results, ctx.Err()
		default:
			res.Status = ReplayRejected
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) replayOne(ctx context.Context, userID string, cmd ReplayCommand) (int, error) {
	trade := TradeInput{UserID: userID, Asset: cmd.Asset, Shares: cmd.Shares, IdempotencyKey: cmd.IdempotencyKey}
	day := DayRequest{UserID: userID, Action: cmd.Action, ExpectedDay: cmd.ExpectedDay, IdempotencyKey: cmd.IdempotencyKey}
	switch strings.ToLower(cmd.Kind) {
	case ReplayBuy:
		out, err := s.BuyShares(ctx, trade)
		return out.State.Day, err
	case ReplaySell:
		out, err := s.SellShares(ctx, trade)
		return out.State.Day, err
	case ReplayDay:
		out, err := s.ExecuteDay(ctx, day)
		return out.Day, err
	case ReplaySkip:
		out, err := s.SkipDay(ctx, day)
		return out.Day, err
	case ReplayClaim:
		out, err := s.ClaimMission(ctx, ClaimInput{UserID: userID, MissionID: cmd.MissionID, IdempotencyKey: cmd.IdempotencyKey})
		return out.State.Day, err
	default:
		return 0, fmt.Errorf("%w: unknown command %q", rules.ErrInvalidAction, cmd.Kind)
	}
}
