package chat

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gamechat/internal/ratelimit"
)

// LimitsResolver maps a channel to its limits: a named override when one
// exists, the process defaults otherwise. It is immutable after creation.
type LimitsResolver struct {
	defaults  Limits
	overrides map[string]Limits
}

// NewLimitsResolver parses overridesJSON, a map of channel to partial
// limits. Malformed JSON is logged and ignored. Override fields that are not
// positive numbers fall back to the default; fractions are floored.
func NewLimitsResolver(defaults Limits, overridesJSON string, logger zerolog.Logger) *LimitsResolver {
	r := &LimitsResolver{defaults: defaults, overrides: map[string]Limits{}}
	if strings.TrimSpace(overridesJSON) == "" {
		return r
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal([]byte(overridesJSON), &raw); err != nil {
		logger.Error().Err(err).Msg("invalid CHAT_LIMITS_OVERRIDES JSON, falling back to defaults")
		return r
	}

	for channel, o := range raw {
		r.overrides[channel] = Limits{
			MaxMessageLength:  toLimit(o["maxMessageLength"], defaults.MaxMessageLength),
			RateLimitCount:    toLimit(o["rateLimitCount"], defaults.RateLimitCount),
			RateLimitWindowMs: toLimit(o["rateLimitWindowMs"], defaults.RateLimitWindowMs),
		}
	}
	return r
}

func (r *LimitsResolver) For(channel string) Limits {
	if l, ok := r.overrides[channel]; ok {
		return l
	}
	return r.defaults
}

// Rule converts the channel's rate-limit fields for the limiter.
func (l Limits) Rule() ratelimit.Rule {
	return ratelimit.Rule{
		Count:  l.RateLimitCount,
		Window: time.Duration(l.RateLimitWindowMs) * time.Millisecond,
	}
}

func toLimit(v any, fallback int) int {
	f, ok := v.(float64)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
		return fallback
	}
	n := math.Floor(f)
	if n <= 0 || n > math.MaxInt32 {
		return fallback
	}
	return int(n)
}
