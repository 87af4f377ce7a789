package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"gamechat/internal/log"
)

var digitsRe = regexp.MustCompile(`^\d+$`)

// Config holds the server configuration.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Chat     ChatConfig
	Profile  ProfileConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Log      log.Config
}

type ServerConfig struct {
	Addr string
}

type AuthConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	VerificationSecret  string        `mapstructure:"verification_secret"`
	VerificationPlaceID string        `mapstructure:"verification_place_id"`
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
}

type ChatConfig struct {
	MaxMessageLength  int    `mapstructure:"max_message_length"`
	RateLimitCount    int    `mapstructure:"rate_limit_count"`
	RateLimitWindowMs int    `mapstructure:"rate_limit_window_ms"`
	LimitsOverrides   string `mapstructure:"limits_overrides"`
	SubscriberBuffer  int    `mapstructure:"subscriber_buffer"`
}

type ProfileConfig struct {
	UsersBaseURL      string        `mapstructure:"users_base_url"`
	ThumbnailsBaseURL string        `mapstructure:"thumbnails_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// RedisConfig selects the shared rate-limit store. An empty Addr keeps
// buckets in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig enables the known-user directory when DSN is set.
type DatabaseConfig struct {
	DSN string
}

// Load reads .env (if any), an optional config.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.verification_secret", "")
	v.SetDefault("auth.verification_place_id", "")
	v.SetDefault("auth.session_ttl", "10m")
	v.SetDefault("chat.max_message_length", 280)
	v.SetDefault("chat.rate_limit_count", 4)
	v.SetDefault("chat.rate_limit_window_ms", 5000)
	v.SetDefault("chat.limits_overrides", "")
	v.SetDefault("chat.subscriber_buffer", 256)
	v.SetDefault("profile.users_base_url", "https://users.roblox.com")
	v.SetDefault("profile.thumbnails_base_url", "https://thumbnails.roblox.com")
	v.SetDefault("profile.timeout", "10s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "gamechat-server")

	v.BindEnv("server.addr", "ADDR")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.token_ttl", "JWT_TTL")
	v.BindEnv("auth.verification_secret", "VERIFICATION_SECRET")
	v.BindEnv("auth.verification_place_id", "VERIFICATION_PLACE_ID")
	v.BindEnv("auth.session_ttl", "VERIFICATION_SESSION_TTL")
	v.BindEnv("chat.max_message_length", "CHAT_DEFAULT_MAX_MESSAGE_LENGTH")
	v.BindEnv("chat.rate_limit_count", "CHAT_DEFAULT_RATE_LIMIT_COUNT")
	v.BindEnv("chat.rate_limit_window_ms", "CHAT_DEFAULT_RATE_LIMIT_WINDOW_MS")
	v.BindEnv("chat.limits_overrides", "CHAT_LIMITS_OVERRIDES")
	v.BindEnv("chat.subscriber_buffer", "CHAT_SUBSCRIBER_BUFFER")
	v.BindEnv("profile.users_base_url", "PROFILE_USERS_BASE_URL")
	v.BindEnv("profile.thumbnails_base_url", "PROFILE_THUMBNAILS_BASE_URL")
	v.BindEnv("profile.timeout", "PROFILE_TIMEOUT")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("database.dsn", "DB_DSN")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Auth.TokenTTL = parseDuration(v, "auth.token_ttl", time.Hour)
	cfg.Auth.SessionTTL = parseDuration(v, "auth.session_ttl", 10*time.Minute)
	cfg.Profile.Timeout = parseDuration(v, "profile.timeout", 10*time.Second)

	return &cfg, nil
}

// Validate checks the secrets and limits required to serve traffic.
func (c *Config) Validate() error {
	var errs []error

	if n := len(c.Auth.JWTSecret); n < 32 || n > 64 {
		errs = append(errs, errors.New("JWT_SECRET must be between 32 and 64 characters"))
	}
	if len(c.Auth.VerificationSecret) < 64 {
		errs = append(errs, errors.New("VERIFICATION_SECRET must be at least 64 characters"))
	}
	if !digitsRe.MatchString(c.Auth.VerificationPlaceID) {
		errs = append(errs, errors.New("VERIFICATION_PLACE_ID must be a numeric place id"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("CHAT_DEFAULT_MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.Chat.RateLimitCount <= 0 {
		errs = append(errs, errors.New("CHAT_DEFAULT_RATE_LIMIT_COUNT must be positive"))
	}
	if c.Chat.RateLimitWindowMs <= 0 {
		errs = append(errs, errors.New("CHAT_DEFAULT_RATE_LIMIT_WINDOW_MS must be positive"))
	}

	return errors.Join(errs...)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
