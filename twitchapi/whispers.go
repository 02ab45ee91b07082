package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// maxWhisperLen is Helix's limit for a whisper to a user the sender has not
// whispered before.
const maxWhisperLen = 500

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "#"))
	if login == "" {
		return "", errors.New("login empty")
	}
	if hc.AppTokenSource == nil {
		return "", errors.New("helix client has no token source")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	if err != nil {
		return "", err
	}
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
	if resp.StatusCode == http.StatusUnauthorized {
		hc.AppTokenSource.SetToken("", time.Time{})
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError("helix users", resp)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode helix users: %w", err)
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}

// SendWhisper posts a whisper from one user to another. userToken must be a
// user access token for fromUserID with the user:manage:whispers scope; app
// tokens are rejected by Twitch.
func (hc *HelixClient) SendWhisper(ctx context.Context, userToken, fromUserID, toUserID, message string) error {
	if userToken == "" {
		return errors.New("whisper needs a user access token")
	}
	if fromUserID == "" || toUserID == "" {
		return errors.New("whisper needs sender and recipient ids")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("whisper message empty")
	}
	payload, err := json.Marshal(map[string]string{"message": truncate(message, maxWhisperLen)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+"/whispers", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("from_user_id", fromUserID)
	q.Set("to_user_id", toUserID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent {
		return statusError("helix whispers", resp)
	}
	return nil
}

// Whisperer sends whispers as the bot account. It resolves the bot's user id
// once and reads the current user token on every send, so a refreshed token
// is picked up without a restart.
type Whisperer struct {
	Client    *HelixClient
	FromLogin string
	UserToken func() string

	mu     sync.Mutex
	fromID string
}

// SendWhisper whispers text to the user with id toUserID.
func (w *Whisperer) SendWhisper(ctx context.Context, toUserID, text string) error {
	if w.Client == nil || w.UserToken == nil {
		return errors.New("whisperer is not configured")
	}
	from, err := w.senderID(ctx)
	if err != nil {
		return fmt.Errorf("resolve whisper sender: %w", err)
	}
	tok := strings.TrimPrefix(strings.TrimSpace(w.UserToken()), "oauth:")
	return w.Client.SendWhisper(ctx, tok, from, toUserID, text)
}

func (w *Whisperer) senderID(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fromID != "" {
		return w.fromID, nil
	}
	id, err := w.Client.GetUserID(ctx, w.FromLogin)
	if err != nil {
		return "", err
	}
	w.fromID = id
	return id, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func statusError(what string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: %s: %s", what, resp.Status, strings.TrimSpace(string(b)))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
