package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tinyassets/internal/rules"
)

func TestTradeSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/trades/buy" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("headers %v", r.Header)
		}
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["asset"] != "gold" || in["shares"].(float64) != 1 {
			t.Errorf("body %v", in)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cost":10}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/").Trade(context.Background(), "tok", rules.ActionBuy, rules.AssetGold, 1, "k1")
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if out["cost"].(float64) != 10 {
		t.Fatalf("out %v", out)
	}
}

func TestAPIErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"insufficient funds","requested":20,"available":15}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Trade(context.Background(), "tok", rules.ActionBuy, rules.AssetGold, 2, "k")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "insufficient funds" {
		t.Fatalf("api error %+v", apiErr)
	}
	if apiErr.Body["available"].(float64) != 15 {
		t.Fatalf("body %v", apiErr.Body)
	}
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(base).SkipDay(context.Background(), "tok", "k")
	if err == nil || IsAPIError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadSession(); err == nil {
		t.Fatal("expected missing session error")
	}
	if err := SaveSession(Session{AccessToken: "a", UserID: "kid"}); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSession()
	if err != nil || s.UserID != "kid" {
		t.Fatalf("load: %+v %v", s, err)
	}
	if err := ClearSession(); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatal("session survived clear")
	}
}
