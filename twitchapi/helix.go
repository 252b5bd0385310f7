// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs: user id resolution (app access token) and moderation actions
// (timeouts, unbans, chat announcements), which require a moderator user token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// UserTokenProvider supplies a moderator user access token for Helix
// moderation endpoints. Implementations typically read the stored token from
// the oauth_tokens table.
type UserTokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HelixClient provides the Helix methods the moderation engine needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	UserTokens     UserTokenProvider
	ClientID       string
	BroadcasterID  string
	ModeratorID    string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to the public Helix endpoint
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

// GetUserID resolves a login name to its user ID using the app token.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// BanUser times out a user in the broadcaster's chat for the given duration.
// Helix caps timeout duration at 1209600 seconds (two weeks).
func (hc *HelixClient) BanUser(ctx context.Context, userID string, duration time.Duration, reason string) error {
	if userID == "" {
		return fmt.Errorf("userID empty")
	}
	secs := int(duration.Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs > 1209600 {
		secs = 1209600
	}
	payload := map[string]any{
		"data": map[string]any{
			"user_id":  userID,
			"duration": secs,
			"reason":   reason,
		},
	}
	return hc.moderationCall(ctx, http.MethodPost, "/moderation/bans", nil, payload)
}

// UnbanUser lifts the timeout/ban for a user in the broadcaster's chat.
func (hc *HelixClient) UnbanUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("userID empty")
	}
	return hc.moderationCall(ctx, http.MethodDelete, "/moderation/bans", map[string]string{"user_id": userID}, nil)
}

// SendAnnouncement posts a highlighted announcement to the broadcaster's chat.
func (hc *HelixClient) SendAnnouncement(ctx context.Context, message string) error {
	if message == "" {
		return fmt.Errorf("message empty")
	}
	return hc.moderationCall(ctx, http.MethodPost, "/chat/announcements", nil, map[string]any{"message": message})
}

// moderationCall performs an authenticated Helix moderation request with the
// broadcaster/moderator id pair applied as query parameters.
func (hc *HelixClient) moderationCall(ctx context.Context, method, path string, extraQuery map[string]string, payload any) error {
	if hc.UserTokens == nil {
		return fmt.Errorf("no user token provider configured")
	}
	if hc.BroadcasterID == "" || hc.ModeratorID == "" {
		return fmt.Errorf("missing broadcaster or moderator id")
	}
	tok, err := hc.UserTokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("user token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.base()+path, body)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", hc.BroadcasterID)
	q.Set("moderator_id", hc.ModeratorID)
	for k, v := range extraQuery {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s failed: %s: %s", method, path, resp.Status, string(b))
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
