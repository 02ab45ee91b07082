// Package oauth keeps the bot's chat token fresh. Tokens live in a TokenStore
// (the oauth_tokens table in production); a Refresher performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/onnwee/merchbot/db"
)

// TokenStore loads and saves a provider's token.
type TokenStore interface {
	LoadToken(ctx context.Context, provider string) (db.Token, error)
	SaveToken(ctx context.Context, provider string, t db.Token) error
}

// RefreshFunc performs provider-specific refresh of refreshToken.
type RefreshFunc func(ctx context.Context, refreshToken string) (db.Token, error)

// Refresher periodically checks a stored token and refreshes it.
type Refresher struct {
	Store    TokenStore
	Provider string
	// Interval is how often to wake up and check.
	Interval time.Duration
	// Window refreshes when remaining lifetime <= Window.
	Window  time.Duration
	Refresh RefreshFunc
	Logger  *slog.Logger

	// OnRefresh, when set, receives every newly persisted token.
	OnRefresh func(db.Token)

	mu      sync.Mutex
	current db.Token
}

// Current returns the last token seen by Check.
func (r *Refresher) Current() db.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Refresher) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Check loads the token and refreshes it when it is inside the window.
// It reports whether a refresh happened.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	tok, err := r.Store.LoadToken(ctx, r.Provider)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	r.mu.Lock()
	r.current = tok
	r.mu.Unlock()

	if tok.Refresh == "" || time.Until(tok.Expiry) > window {
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	fresh, err := r.Refresh(ctx2, tok.Refresh)
	cancel()
	if err != nil {
		return false, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.Refresh == "" {
		fresh.Refresh = tok.Refresh
	}
	if strings.TrimSpace(fresh.Scope) == "" {
		fresh.Scope = tok.Scope
	}
	if err := r.Store.SaveToken(ctx, r.Provider, fresh); err != nil {
		return false, fmt.Errorf("persist token: %w", err)
	}
	r.mu.Lock()
	r.current = fresh
	r.mu.Unlock()
	if r.OnRefresh != nil {
		r.OnRefresh(fresh)
	}
	r.logger().Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", fresh.Expiry))
	return true, nil
}

// Run checks the token every Interval with jitter until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}
	for {
		if _, err := r.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger().Warn("token check failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		// ±20% of interval
		jitterRange := int64(interval/5) + 1
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		nextSleep := interval + jitter
		if nextSleep < interval/2 {
			nextSleep = interval / 2
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextSleep):
		}
	}
}

// TwitchRefreshFunc refreshes user tokens against the Twitch token endpoint.
// tokenURL overrides the endpoint when non-empty.
func TwitchRefreshFunc(clientID, clientSecret, tokenURL string, hc *http.Client) RefreshFunc {
	endpoint := twitch.Endpoint
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	cfg := &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: endpoint}
	return func(ctx context.Context, refreshToken string) (db.Token, error) {
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		// An already expired token forces the source to refresh.
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
		tok, err := src.Token()
		if err != nil {
			return db.Token{}, err
		}
		out := db.Token{Access: tok.AccessToken, Refresh: tok.RefreshToken, Expiry: tok.Expiry}
		if out.Expiry.IsZero() {
			out.Expiry = time.Now().Add(time.Hour)
		}
		if scope, ok := tok.Extra("scope").(string); ok {
			out.Scope = scope
		}
		return out, nil
	}
}
