// Package twitchapi contains minimal helpers for the Twitch Helix API: an app
// access token source, a stream lookup used to poll live viewer counts and
// whisper delivery for the bot account.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultHelixBase = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls the bot needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
}

// Stream is a live stream as returned by /helix/streams.
type Stream struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return defaultHelixBase
}

// GetStreams returns the live streams for the given logins. Offline channels
// are simply absent from the result.
func (hc *HelixClient) GetStreams(ctx context.Context, logins ...string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, errors.New("no logins given")
	}
	if hc.AppTokenSource == nil {
		return nil, errors.New("helix client has no token source")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/streams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for _, l := range logins {
		q.Add("user_login", strings.ToLower(strings.TrimPrefix(l, "#")))
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		// token revoked or expired early; fetch a new one next time
		hc.AppTokenSource.SetToken("", time.Time{})
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("helix streams: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode helix streams: %w", err)
	}
	return body.Data, nil
}
