package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tinyassets/internal/auth"
	"tinyassets/internal/rules"
	"tinyassets/internal/syncq"
)

// APIError is a non-2xx answer from the API. Anything else returned by the
// client is a transport failure and the write may be queued for replay.
type APIError struct {
	Status  int
	Message string
	Body    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, displayName string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) State(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/state", accessToken)
}

func (c *Client) Holdings(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/holdings", accessToken)
}

func (c *Client) Portfolio(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/portfolio", accessToken)
}

func (c *Client) Win(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/win", accessToken)
}

func (c *Client) Indicators(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/day/indicators", accessToken)
}

func (c *Client) Missions(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/missions", accessToken)
}

func (c *Client) Badges(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.get(ctx, "/v1/badges", accessToken)
}

// History reads one of the events, transactions or production logs.
func (c *Client) History(ctx context.Context, accessToken, kind string, limit int) (map[string]any, error) {
	path := "/v1/history/" + url.PathEscape(kind)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	return c.get(ctx, path, accessToken)
}

func (c *Client) Trade(ctx context.Context, accessToken string, side rules.ActionType, asset rules.AssetID, shares int, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades/"+string(side), accessToken, map[string]any{
		"asset":  asset,
		"shares": shares,
	}, &out, idem)
	return out, err
}

func (c *Client) ExecuteDay(ctx context.Context, accessToken string, action rules.Action, expectedDay int, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/day/execute", accessToken, map[string]any{
		"action":       action,
		"expected_day": expectedDay,
	}, &out, idem)
	return out, err
}

func (c *Client) SkipDay(ctx context.Context, accessToken, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/day/skip", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) ClaimMission(ctx context.Context, accessToken, missionID, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/missions/"+url.PathEscape(missionID)+"/claim", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) CompleteTutorial(ctx context.Context, accessToken, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tutorial/complete", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) ParentSetup(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/parent/setup", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ParentRotate(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/parent/rotate", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ParentProfile(ctx context.Context, accessToken, pin string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/parent/profile", accessToken, map[string]any{
		"pin": pin,
	}, &out, "")
	return out, err
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, commands []syncq.Command) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"commands": commands,
	}, &out, "")
	return out, err
}

func (c *Client) get(ctx context.Context, path, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if json.Unmarshal(raw, &apiErr.Body) == nil {
			if msg, ok := apiErr.Body["error"].(string); ok {
				apiErr.Message = msg
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
