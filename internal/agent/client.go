package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"push-relay-backend/internal/model"
	"push-relay-backend/internal/prefs"
)

// HTTPServer talks to the push-relay API over HTTP, implementing Server.
type HTTPServer struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPServer creates a client for the given base URL. token may be empty
// for unauthenticated use; analytics still flush, unattributed.
func NewHTTPServer(baseURL, token string, client *http.Client) *HTTPServer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPServer{baseURL: baseURL, token: token, client: client}
}

// SetToken swaps the bearer token on sign-in/out.
func (s *HTTPServer) SetToken(token string) { s.token = token }

// VAPIDKey fetches the server's public VAPID key.
func (s *HTTPServer) VAPIDKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/vapid-key", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// Subscribe forwards the platform subscription to the registry.
func (s *HTTPServer) Subscribe(ctx context.Context, sub PushSubscription, userAgent, platform string) error {
	body := map[string]any{
		"endpoint": sub.Endpoint,
		"keys": map[string]string{
			"p256dh": sub.P256DH,
			"auth":   sub.Auth,
		},
		"userAgent": userAgent,
		"platform":  platform,
	}
	return s.do(ctx, http.MethodPost, "/api/subscribe", body, nil)
}

// Unsubscribe removes all of the caller's subscriptions server-side.
func (s *HTTPServer) Unsubscribe(ctx context.Context) error {
	return s.do(ctx, http.MethodPost, "/api/unsubscribe", map[string]any{}, nil)
}

// SavePreferences applies a partial update and returns the merged object.
func (s *HTTPServer) SavePreferences(ctx context.Context, patch prefs.Patch) (*model.Preference, error) {
	var pref model.Preference
	if err := s.do(ctx, http.MethodPut, "/api/preferences", patch, &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

// RecordBatch submits analytics events and reports how many were recorded.
// A partial server failure still carries {recorded, total} in its error
// body, so the accepted prefix count survives and only the tail is resent.
func (s *HTTPServer) RecordBatch(ctx context.Context, events []EventPayload) (int, int, error) {
	raw, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return 0, len(events), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/analytics/batch", bytes.NewReader(raw))
	if err != nil {
		return 0, len(events), err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, len(events), err
	}
	defer resp.Body.Close()

	var result struct {
		Recorded int `json:"recorded"`
		Total    int `json:"total"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result.Recorded, len(events), fmt.Errorf("POST /api/analytics/batch: status %d: %s", resp.StatusCode, body)
	}
	if decodeErr != nil {
		return 0, len(events), decodeErr
	}
	return result.Recorded, result.Total, nil
}

// UnreadCount returns the server-side unread notification count.
func (s *HTTPServer) UnreadCount(ctx context.Context, since time.Time) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := "/api/unread?since=" + url.QueryEscape(strconv.FormatInt(since.Unix(), 10))
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *HTTPServer) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
