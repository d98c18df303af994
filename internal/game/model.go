package game

import (
	"errors"
	"strings"

	"tinyassets/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxReplayCommands   = 50
)

var (
	ErrMissionNotFound     = errors.New("mission not found")
	ErrMissionNotCompleted = errors.New("mission not completed yet")
	ErrAlreadyClaimed      = errors.New("mission reward already claimed")
	ErrDayAlreadyExecuted  = errors.New("day already executed")
	ErrStateConflict       = errors.New("game state changed, reload and retry")
	ErrParentAccessExists  = errors.New("parent access already set up")
	ErrParentAccessDenied  = errors.New("parent pin rejected")
	ErrInvalidUser         = errors.New("user id is required")

	// Re-exported so callers only need this package for errors.Is.
	ErrDuplicateIdempotency = store.ErrDuplicateIdempotency
	ErrTxConflict           = store.ErrTxConflict
	ErrNotFound             = store.ErrNotFound
)

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
