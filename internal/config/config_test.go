package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("VERIFICATION_SECRET", strings.Repeat("v", 64))
	t.Setenv("VERIFICATION_PLACE_ID", "1234567")
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("DB_DSN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Server.Addr != ":3000" {
		t.Errorf("expected default addr :3000, got %q", cfg.Server.Addr)
	}
	if cfg.Chat.MaxMessageLength != 280 || cfg.Chat.RateLimitCount != 4 || cfg.Chat.RateLimitWindowMs != 5000 {
		t.Errorf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("expected 1h token ttl, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.SessionTTL != 10*time.Minute {
		t.Errorf("expected 10m session ttl, got %v", cfg.Auth.SessionTTL)
	}
	if cfg.Redis.Addr != "" || cfg.Database.DSN != "" {
		t.Errorf("optional backends should be disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ADDR", ":8081")
	t.Setenv("CHAT_DEFAULT_MAX_MESSAGE_LENGTH", "500")
	t.Setenv("CHAT_DEFAULT_RATE_LIMIT_COUNT", "10")
	t.Setenv("CHAT_DEFAULT_RATE_LIMIT_WINDOW_MS", "2000")
	t.Setenv("CHAT_LIMITS_OVERRIDES", `{"global":{"maxMessageLength":100}}`)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("VERIFICATION_SESSION_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8081" {
		t.Errorf("expected :8081, got %q", cfg.Server.Addr)
	}
	if cfg.Chat.MaxMessageLength != 500 || cfg.Chat.RateLimitCount != 10 || cfg.Chat.RateLimitWindowMs != 2000 {
		t.Errorf("env overrides not applied: %+v", cfg.Chat)
	}
	if !strings.Contains(cfg.Chat.LimitsOverrides, "global") {
		t.Errorf("expected overrides JSON, got %q", cfg.Chat.LimitsOverrides)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Auth.SessionTTL != 5*time.Minute {
		t.Errorf("expected 5m session ttl, got %v", cfg.Auth.SessionTTL)
	}
}

func TestValidateRejectsWeakSecrets(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
		{"long jwt secret", func(c *Config) { c.Auth.JWTSecret = strings.Repeat("x", 65) }, "JWT_SECRET"},
		{"short verification secret", func(c *Config) { c.Auth.VerificationSecret = strings.Repeat("x", 63) }, "VERIFICATION_SECRET"},
		{"non numeric place", func(c *Config) { c.Auth.VerificationPlaceID = "place" }, "VERIFICATION_PLACE_ID"},
		{"zero length", func(c *Config) { c.Chat.MaxMessageLength = 0 }, "MAX_MESSAGE_LENGTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Auth: AuthConfig{
					JWTSecret:           strings.Repeat("s", 32),
					VerificationSecret:  strings.Repeat("v", 64),
					VerificationPlaceID: "42",
				},
				Chat: ChatConfig{MaxMessageLength: 280, RateLimitCount: 4, RateLimitWindowMs: 5000},
			}
			tt.mut(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("API_URL", "chat.example.com/")
	t.Setenv("JOIN_MESSAGE", "hello all")
	t.Setenv("CHANNEL_POLL_INTERVAL", "250ms")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.APIURL != "https://chat.example.com" {
		t.Errorf("expected normalized url, got %q", cfg.APIURL)
	}
	if cfg.JoinMessage != "hello all" {
		t.Errorf("expected join message, got %q", cfg.JoinMessage)
	}
	if cfg.ChannelPollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll, got %v", cfg.ChannelPollInterval)
	}
	if cfg.VerificationPollInterval != 3*time.Second {
		t.Errorf("expected default 3s verification poll, got %v", cfg.VerificationPollInterval)
	}
}

func TestURLHelpers(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", DefaultAPIURL},
		{"  http://localhost:3000// ", "http://localhost:3000"},
		{"HTTPS://Chat.Example.com", "HTTPS://Chat.Example.com"},
		{"example.com", "https://example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeAPIURL(tt.in); got != tt.want {
			t.Errorf("NormalizeAPIURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := WebSocketURL("https://example.com"); got != "wss://example.com" {
		t.Errorf("unexpected ws url %q", got)
	}
	if got := WebSocketURL("http://localhost:3000"); got != "ws://localhost:3000" {
		t.Errorf("unexpected ws url %q", got)
	}
}
