package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gamechat/internal/log"
)

const (
	DefaultAPIURL      = "http://localhost:3000"
	DefaultJoinMessage = "joined the server"
)

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// ClientConfig holds the headless client configuration.
type ClientConfig struct {
	APIURL                   string        `mapstructure:"api_url"`
	JoinMessage              string        `mapstructure:"join_message"`
	LogsPath                 string        `mapstructure:"logs_path"`
	AuthStorePath            string        `mapstructure:"auth_store_path"`
	ChannelPollInterval      time.Duration `mapstructure:"channel_poll_interval"`
	VerificationPollInterval time.Duration `mapstructure:"verification_poll_interval"`
	RefreshInterval          time.Duration `mapstructure:"refresh_interval"`
	Log                      log.Config
}

// LoadClient reads the client configuration from .env and the environment.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("join_message", DefaultJoinMessage)
	v.SetDefault("logs_path", "")
	v.SetDefault("auth_store_path", "./auth.json")
	v.SetDefault("channel_poll_interval", "1s")
	v.SetDefault("verification_poll_interval", "3s")
	v.SetDefault("refresh_interval", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.service_name", "gamechat-client")

	v.BindEnv("api_url", "API_URL")
	v.BindEnv("join_message", "JOIN_MESSAGE")
	v.BindEnv("logs_path", "LOGS_PATH")
	v.BindEnv("auth_store_path", "AUTH_STORE_PATH")
	v.BindEnv("channel_poll_interval", "CHANNEL_POLL_INTERVAL")
	v.BindEnv("verification_poll_interval", "VERIFICATION_POLL_INTERVAL")
	v.BindEnv("refresh_interval", "REFRESH_INTERVAL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode client config: %w", err)
	}

	cfg.APIURL = NormalizeAPIURL(cfg.APIURL)
	if strings.TrimSpace(cfg.JoinMessage) == "" {
		cfg.JoinMessage = DefaultJoinMessage
	}
	cfg.ChannelPollInterval = parseDuration(v, "channel_poll_interval", time.Second)
	cfg.VerificationPollInterval = parseDuration(v, "verification_poll_interval", 3*time.Second)
	cfg.RefreshInterval = parseDuration(v, "refresh_interval", time.Hour)

	return &cfg, nil
}

// NormalizeAPIURL trims the value, adds https:// when no scheme is given and
// strips trailing slashes.
func NormalizeAPIURL(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultAPIURL
	}
	if !schemeRe.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// WebSocketURL derives the ws(s) base URL from an http(s) API URL.
func WebSocketURL(apiURL string) string {
	lower := strings.ToLower(apiURL)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return "wss://" + apiURL[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return "ws://" + apiURL[len("http://"):]
	default:
		return apiURL
	}
}
