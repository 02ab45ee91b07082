package config

import (
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TWITCH_BOT_USERNAME", "TWITCH_OAUTH_TOKEN", "TWITCH_CHANNELS", "TWITCH_CAPABILITIES",
		"WHISPER_ENABLED", "COMMAND_COOLDOWN", "TASKS_FILE", "DB_DSN", "HTTP_ADDR",
		"SHUTDOWN_TIMEOUT", "TOKEN_REFRESH_INTERVAL", "TOKEN_REFRESH_WINDOW",
		"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "ADMIN_TOKEN", "ADMIN_RATE_LIMIT", "ENCRYPTION_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.UseCapabilities || !cfg.WhisperEnabled {
		t.Errorf("capabilities and whispers should default on: %+v", cfg)
	}
	if cfg.HTTPAddr != ":8080" || cfg.TasksFile != "tasks.yaml" {
		t.Errorf("unexpected defaults: addr=%q tasks=%q", cfg.HTTPAddr, cfg.TasksFile)
	}
	if cfg.ShutdownTimeout != 10*time.Second || cfg.CommandCooldown != 30*time.Second {
		t.Errorf("unexpected durations: %v %v", cfg.ShutdownTimeout, cfg.CommandCooldown)
	}
	if cfg.AdminRateLimit != 10 || cfg.AdminToken != "" {
		t.Errorf("unexpected admin defaults: limit=%d token=%q", cfg.AdminRateLimit, cfg.AdminToken)
	}
	if cfg.DBDsn != "" {
		t.Errorf("DB_DSN should have no default, got %q", cfg.DBDsn)
	}
	if cfg.HelixEnabled() {
		t.Error("helix enabled without credentials")
	}
}

func TestLoadChannels(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNELS", " #Shop, tour,,shop ")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"#shop", "#tour"}; !reflect.DeepEqual(cfg.Channels(), want) {
		t.Errorf("Channels() = %v, want %v", cfg.Channels(), want)
	}
}

func TestChannelsFallsBackToHome(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_BOT_USERNAME", "MerchBot")
	cfg, _ := Load()
	if want := []string{"#merchbot"}; !reflect.DeepEqual(cfg.Channels(), want) {
		t.Errorf("Channels() = %v, want %v", cfg.Channels(), want)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"TWITCH_CAPABILITIES", "maybe"},
		{"SHUTDOWN_TIMEOUT", "soon"},
		{"COMMAND_COOLDOWN", "-5s"},
		{"ADMIN_RATE_LIMIT", "lots"},
		{"ADMIN_RATE_LIMIT", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_OAUTH_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}
