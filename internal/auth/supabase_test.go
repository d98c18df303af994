package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeSupabase(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(User{ID: "u1", Email: "kid@example.com"})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if r.URL.Query().Get("grant_type") != "password" || in["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(Session{AccessToken: "good", User: User{ID: "u1", Email: in["email"]}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyAccessToken(t *testing.T) {
	srv := fakeSupabase(t)
	c := NewSupabaseClient(srv.URL+"/", "anon")

	user, err := c.VerifyAccessToken(context.Background(), "good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("got user %+v", user)
	}
	if _, err := c.VerifyAccessToken(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	srv := fakeSupabase(t)
	c := NewSupabaseClient(srv.URL, "anon")

	sess, err := c.Login(context.Background(), "kid@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.AccessToken != "good" || sess.User.Email != "kid@example.com" {
		t.Fatalf("unexpected session %+v", sess)
	}

	_, err = c.Login(context.Background(), "kid@example.com", "nope")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected status error, got %v", err)
	}
}
