package chat

import (
	"testing"

	"github.com/rs/zerolog"
)

var defaultLimits = Limits{MaxMessageLength: 280, RateLimitCount: 4, RateLimitWindowMs: 5000}

func TestLimitsResolver(t *testing.T) {
	overrides := `{
		"global": {"maxMessageLength": 100},
		"busy": {"maxMessageLength": 140.9, "rateLimitCount": 2, "rateLimitWindowMs": 10000},
		"broken": {"maxMessageLength": -5, "rateLimitCount": "ten", "rateLimitWindowMs": 0.5}
	}`
	r := NewLimitsResolver(defaultLimits, overrides, zerolog.Nop())

	tests := []struct {
		channel string
		want    Limits
	}{
		{"global", Limits{100, 4, 5000}},
		{"busy", Limits{140, 2, 10000}},
		{"broken", defaultLimits},
		{"12345", defaultLimits},
	}
	for _, tt := range tests {
		if got := r.For(tt.channel); got != tt.want {
			t.Errorf("For(%q) = %+v, want %+v", tt.channel, got, tt.want)
		}
	}

	// Repeated reads return identical values.
	if r.For("busy") != r.For("busy") {
		t.Error("limits are not stable")
	}
}

func TestLimitsResolverMalformedJSON(t *testing.T) {
	r := NewLimitsResolver(defaultLimits, `{"global":`, zerolog.Nop())
	if got := r.For("global"); got != defaultLimits {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestLimitsRule(t *testing.T) {
	rule := defaultLimits.Rule()
	if rule.Count != 4 || rule.Window.Milliseconds() != 5000 {
		t.Errorf("unexpected rule %+v", rule)
	}
}
