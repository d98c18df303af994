package syncq

import (
	"testing"

	"tinyassets/internal/rules"
)

func TestPushLoadAndSettle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	queue, err := Load()
	if err != nil || len(queue) != 0 {
		t.Fatalf("fresh queue: %v %v", queue, err)
	}

	hold := rules.Hold()
	cmds := []Command{
		{Kind: "buy", Asset: rules.AssetProperty, Shares: 1, IdempotencyKey: "a"},
		{Kind: "day", Action: &hold, ExpectedDay: 1, IdempotencyKey: "b"},
		{Kind: "claim", MissionID: "first-share", IdempotencyKey: "c"},
	}
	for _, c := range cmds {
		if err := Push(c); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := Push(cmds[0]); err != nil {
		t.Fatalf("re-push: %v", err)
	}

	queue, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 queued commands, got %d", len(queue))
	}
	if queue[1].Action == nil || queue[1].Action.Type != rules.ActionHold {
		t.Fatalf("day action lost: %+v", queue[1])
	}

	remaining, err := Settle(map[string]bool{"a": true, "c": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].IdempotencyKey != "b" {
		t.Fatalf("remaining %+v", remaining)
	}
	queue, _ = Load()
	if len(queue) != 1 {
		t.Fatalf("settle not persisted: %+v", queue)
	}
}
