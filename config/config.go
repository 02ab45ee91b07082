// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (the chat login), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Twitch chat
	TwitchBotUsername string
	TwitchOAuthToken  string
	TwitchChannels    []string
	UseCapabilities   bool
	WhisperEnabled    bool
	CommandCooldown   time.Duration

	// Twitch app credentials (Helix viewer counts and bot token refresh)
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRefreshToken string

	// Tracked sources
	TasksFile        string
	AnnounceTemplate string
	CampaignBaseURL  string

	// Database (optional; empty disables persistence)
	DBDsn         string
	EncryptionKey string

	// HTTP admin server
	HTTPAddr       string
	AdminToken     string
	AdminRateLimit int

	// Lifecycle
	ShutdownTimeout      time.Duration
	TokenRefreshInterval time.Duration
	TokenRefreshWindow   time.Duration
	OTLPEndpoint         string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() before starting the bot. Malformed values are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchBotUsername = strings.TrimSpace(os.Getenv("TWITCH_BOT_USERNAME"))
	cfg.TwitchOAuthToken = strings.TrimSpace(os.Getenv("TWITCH_OAUTH_TOKEN"))
	cfg.TwitchChannels = splitChannels(os.Getenv("TWITCH_CHANNELS"))
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")

	var err error
	if cfg.UseCapabilities, err = envBool("TWITCH_CAPABILITIES", true); err != nil {
		return nil, err
	}
	if cfg.WhisperEnabled, err = envBool("WHISPER_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.CommandCooldown, err = envDuration("COMMAND_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.TasksFile = os.Getenv("TASKS_FILE")
	if cfg.TasksFile == "" {
		cfg.TasksFile = "tasks.yaml"
	}
	cfg.AnnounceTemplate = os.Getenv("ANNOUNCE_TEMPLATE")
	cfg.CampaignBaseURL = os.Getenv("CAMPAIGN_BASE_URL")

	// DB is optional: without it tasks come from TASKS_FILE only and runtime
	// additions are not persisted.
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminRateLimit = 10
	if v := strings.TrimSpace(os.Getenv("ADMIN_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid ADMIN_RATE_LIMIT %q: want a non-negative integer", v)
		}
		cfg.AdminRateLimit = n
	}

	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TokenRefreshInterval, err = envDuration("TOKEN_REFRESH_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TokenRefreshWindow, err = envDuration("TOKEN_REFRESH_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// ValidateChatReady checks the fields the chat connection cannot start without.
func (c *Config) ValidateChatReady() error {
	if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// HelixEnabled reports whether app credentials for the Helix API are present.
func (c *Config) HelixEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// HomeChannel is the bot's own channel.
func (c *Config) HomeChannel() string {
	return "#" + strings.ToLower(c.TwitchBotUsername)
}

// Channels returns the channels to join; the home channel when none are configured.
func (c *Config) Channels() []string {
	if len(c.TwitchChannels) == 0 && c.TwitchBotUsername != "" {
		return []string{c.HomeChannel()}
	}
	return c.TwitchChannels
}

func splitChannels(v string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(v, ",") {
		ch := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "#"))
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, "#"+ch)
	}
	return out
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s (bool): %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration %s", key, d)
	}
	return d, nil
}
