package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tinyassets/internal/auth"
	"tinyassets/internal/game"
	"tinyassets/internal/rules"
	"tinyassets/internal/store"
)

type fakeAuth struct{}

func (fakeAuth) SignUp(_ context.Context, email, _, _ string) (auth.Session, error) {
	return auth.Session{AccessToken: "kid-token", User: auth.User{ID: "kid", Email: email}}, nil
}

func (fakeAuth) Login(_ context.Context, email, _ string) (auth.Session, error) {
	return auth.Session{AccessToken: "kid-token", User: auth.User{ID: "kid", Email: email}}, nil
}

func (fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.User, error) {
	if token != "kid-token" {
		return auth.User{}, auth.ErrUnauthorized
	}
	return auth.User{ID: "kid", Email: "kid@example.com"}, nil
}

// neverFires keeps every day event-free.
type neverFires struct{}

func (neverFires) Float64() float64 { return 0.999 }

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	svc := game.NewService(store.NewMemoryStore(), rules.Default(), logger,
		game.WithRandomSource(neverFires{}),
		game.WithNotifier(hub),
	)
	srv := httptest.NewServer(New(logger, fakeAuth{}, svc, hub).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func call(t *testing.T, srv *httptest.Server, method, path, idem string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer kid-token")
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp, err = http.Get(srv.URL + "/v1/state")
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v %v", resp.StatusCode, err)
	}
}

func TestStateCarriesRulesetVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, out := call(t, srv, http.MethodGet, "/v1/state", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if out["tokens"].(float64) != 15 || out["day"].(float64) != 1 {
		t.Fatalf("state %+v", out)
	}
	if resp.Header.Get("X-Ruleset-Version") != rules.Default().Version {
		t.Fatalf("ruleset header %q", resp.Header.Get("X-Ruleset-Version"))
	}
}

func TestTradeErrorsMapToStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := call(t, srv, http.MethodPost, "/v1/trades/buy", "g", map[string]any{"asset": "gold", "shares": 2})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("shortfall status %d", resp.StatusCode)
	}
	if out["requested"].(float64) != 20 || out["available"].(float64) != 15 {
		t.Fatalf("shortfall body %+v", out)
	}

	resp, _ = call(t, srv, http.MethodPost, "/v1/trades/buy", "x", map[string]any{"asset": "bitcoin", "shares": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown asset status %d", resp.StatusCode)
	}

	resp, _ = call(t, srv, http.MethodPost, "/v1/trades/buy", "p1", map[string]any{"asset": "property", "shares": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status %d", resp.StatusCode)
	}
	resp, _ = call(t, srv, http.MethodPost, "/v1/trades/buy", "p1", map[string]any{"asset": "property", "shares": 1})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replayed key status %d", resp.StatusCode)
	}
}

func TestDayAndClaimFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	if resp, _ := call(t, srv, http.MethodPost, "/v1/trades/buy", "b", map[string]any{"asset": "property", "shares": 1}); resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status %d", resp.StatusCode)
	}

	resp, out := call(t, srv, http.MethodPost, "/v1/day/execute", "d1", map[string]any{"action": map[string]any{"type": "hold"}, "expected_day": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d %+v", resp.StatusCode, out)
	}
	if out["production_earned"].(float64) != 1 {
		t.Fatalf("day outcome %+v", out)
	}
	resp, _ = call(t, srv, http.MethodPost, "/v1/day/execute", "d2", map[string]any{"expected_day": 1})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale day status %d", resp.StatusCode)
	}

	resp, out = call(t, srv, http.MethodPost, "/v1/missions/first-share/claim", "c1", nil)
	if resp.StatusCode != http.StatusOK || out["tokens_awarded"].(float64) != 5 {
		t.Fatalf("claim %d %+v", resp.StatusCode, out)
	}
	resp, _ = call(t, srv, http.MethodPost, "/v1/missions/first-share/claim", "c2", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double claim status %d", resp.StatusCode)
	}
	resp, _ = call(t, srv, http.MethodPost, "/v1/missions/unknown/claim", "c3", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown mission status %d", resp.StatusCode)
	}

	resp, out = call(t, srv, http.MethodGet, "/v1/history/production?limit=5", "", nil)
	if resp.StatusCode != http.StatusOK || len(out["production"].([]any)) != 1 {
		t.Fatalf("production history %+v", out)
	}
}

func TestParentEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, out := call(t, srv, http.MethodPost, "/v1/parent/setup", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("setup status %d", resp.StatusCode)
	}
	pin := out["pin"].(string)

	resp, _ = call(t, srv, http.MethodPost, "/v1/parent/profile", "", map[string]any{"pin": "0000"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong pin status %d", resp.StatusCode)
	}
	resp, out = call(t, srv, http.MethodPost, "/v1/parent/profile", "", map[string]any{"pin": pin})
	if resp.StatusCode != http.StatusOK || out["tokens"].(float64) != 15 {
		t.Fatalf("profile %d %+v", resp.StatusCode, out)
	}
}

func TestFeedReceivesDayResults(t *testing.T) {
	srv, hub := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed?access_token=kid-token"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msgs := make(chan FeedMessage, 64)
	go func() {
		for {
			var m FeedMessage
			if err := conn.ReadJSON(&m); err != nil {
				close(msgs)
				return
			}
			msgs <- m
		}
	}()

	// Registration finishes after the handshake, so probe until it lands.
	deadline := time.After(3 * time.Second)
	for registered := false; !registered; {
		hub.Publish("kid", "probe", nil)
		select {
		case <-msgs:
			registered = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("feed never registered")
		}
	}

	if resp, _ := call(t, srv, http.MethodPost, "/v1/day/skip", "s1", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("skip status %d", resp.StatusCode)
	}
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatal("feed closed")
			}
			if m.Type == "day" {
				return
			}
		case <-deadline:
			t.Fatal("no day message on feed")
		}
	}
}
