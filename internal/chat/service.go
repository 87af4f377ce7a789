package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	"gamechat/internal/ratelimit"
	"gamechat/internal/user"
)

type Service struct {
	hub     *Hub
	limits  *LimitsResolver
	limiter *ratelimit.Limiter
}

// NewService builds the publish path. The limiter's own rule is unused; each
// call applies the rule of the target channel.
func NewService(hub *Hub, limits *LimitsResolver, store ratelimit.Store) *Service {
	return &Service{
		hub:     hub,
		limits:  limits,
		limiter: ratelimit.NewLimiter(store, "publish", ratelimit.Rule{}),
	}
}

func (s *Service) Limits(channel string) Limits {
	return s.limits.For(channel)
}

// Publish validates, rate-limits and fans out a message, returning the
// canonical copy. replyToID is carried through as given.
func (s *Service) Publish(ctx context.Context, channel, content string, replyToID *string, author user.Identity) (Message, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return Message{}, apperr.Validation("Channel is required.")
	}

	limits := s.limits.For(channel)
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, apperr.Validation("Message cannot be empty.")
	}
	if utf8.RuneCountInString(content) > limits.MaxMessageLength {
		return Message{}, apperr.Validation("Message exceeds %d characters.", limits.MaxMessageLength)
	}

	if err := s.limiter.CheckRule(ctx, author.UserID, limits.Rule()); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   content,
		ReplyToID: replyToID,
	}
	delivered := s.hub.Publish(channel, msg)

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldChannel, channel).
		Str(log.FieldMessageID, msg.ID).
		Int("delivered", delivered).
		Msg("message published")

	return msg, nil
}

// Subscribe opens a cursor on channel. Callers must Close it.
func (s *Service) Subscribe(channel string) *Subscription {
	return s.hub.Subscribe(channel)
}
