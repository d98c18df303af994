// Package syncq keeps writes made while the API was unreachable so the CLI
// can replay them later through /v1/sync/replay.
package syncq

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"tinyassets/internal/rules"
)

// Command matches the replay command the API accepts.
type Command struct {
	Kind           string        `json:"kind"`
	Asset          rules.AssetID `json:"asset,omitempty"`
	Shares         int           `json:"shares,omitempty"`
	Action         *rules.Action `json:"action,omitempty"`
	ExpectedDay    int           `json:"expected_day,omitempty"`
	MissionID      string        `json:"mission_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tinyassets")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []Command{}
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push appends cmd unless a command with the same idempotency key is
// already queued.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	for _, q := range commands {
		if q.IdempotencyKey == cmd.IdempotencyKey {
			return nil
		}
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Settle drops every queued command whose key is in done and keeps the rest
// in their original order.
func Settle(done map[string]bool) ([]Command, error) {
	commands, err := Load()
	if err != nil {
		return nil, err
	}
	remaining := make([]Command, 0, len(commands))
	for _, q := range commands {
		if !done[q.IdempotencyKey] {
			remaining = append(remaining, q)
		}
	}
	if err := Save(remaining); err != nil {
		return nil, err
	}
	return remaining, nil
}
