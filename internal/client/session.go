package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"gamechat/internal/apperr"
	"gamechat/internal/chat"
	"gamechat/internal/log"
	"gamechat/internal/ratelimit"
	"gamechat/internal/user"
)

const DefaultChannel = "global"

// FallbackLimits apply until the server's limits for a channel are known.
var FallbackLimits = chat.Limits{MaxMessageLength: 280, RateLimitCount: 4, RateLimitWindowMs: 5000}

// Credentials provides the signed-in user, if any.
type Credentials interface {
	Current() (user.Session, bool)
}

// ChannelResolver returns the channel a send should go to right now.
type ChannelResolver func(ctx context.Context) (string, error)

// localStore is a rate-limit store whose speculative records can be rolled
// back.
type localStore interface {
	ratelimit.Store
	Forget(key string, at time.Time)
}

// Session owns the message list of the active channel. It sends
// optimistically and reconciles server echoes into the list.
type Session struct {
	api     API
	creds   Credentials
	resolve ChannelResolver
	logger  zerolog.Logger
	now     func() time.Time

	// recent holds the user's own send timestamps for the local pre-check.
	recent localStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	channel    string
	generation int
	messages   []UIMessage
	limits     chat.Limits
	sendErr    string
	stopStream context.CancelFunc
	onChange   func()

	resubscribeDelay time.Duration
}

func NewSession(api API, creds Credentials) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		api:              api,
		creds:            creds,
		logger:           log.L().With().Str(log.FieldService, "chat-session").Logger(),
		now:              time.Now,
		recent:           ratelimit.NewMemoryStore(),
		ctx:              ctx,
		cancel:           cancel,
		limits:           FallbackLimits,
		resubscribeDelay: time.Second,
	}
}

// WithResolver sets how the send path finds the current channel. Without
// one, sends go to the session's active channel.
func (s *Session) WithResolver(r ChannelResolver) *Session {
	s.resolve = r
	return s
}

// OnChange registers a callback fired after every state change.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Messages returns a snapshot of the list.
func (s *Session) Messages() []UIMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UIMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Limits() chat.Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

func (s *Session) SendError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendErr
}

// SetChannel switches to channel: the list and error are cleared, the old
// subscription is closed and a new one opened, and the channel's limits are
// fetched.
func (s *Session) SetChannel(channel string) {
	s.mu.Lock()
	if s.closed || channel == s.channel {
		s.mu.Unlock()
		return
	}
	if s.stopStream != nil {
		s.stopStream()
	}
	s.channel = channel
	s.generation++
	gen := s.generation
	s.messages = nil
	s.sendErr = ""
	s.limits = FallbackLimits

	streamCtx, stop := context.WithCancel(s.ctx)
	s.stopStream = stop
	s.wg.Add(2)
	s.mu.Unlock()
	s.changed()

	s.logger.Info().Str(log.FieldChannel, channel).Msg("switched channel")

	go s.subscribe(streamCtx, channel, gen)
	go s.fetchLimits(streamCtx, channel, gen)
}

// SendMessage validates text locally and, if accepted, inserts an optimistic
// entry and publishes in the background. It returns false when the message
// was rejected without contacting the server.
func (s *Session) SendMessage(text string, replyToID *string) bool {
	content := strings.TrimSpace(text)
	if content == "" {
		return false
	}

	sess, ok := s.creds.Current()
	if !ok {
		s.setError("You must be logged in to send messages.")
		return false
	}
	author := sess.User

	limits := s.Limits()
	if utf8.RuneCountInString(content) > limits.MaxMessageLength {
		s.setError(fmt.Sprintf("Message exceeds %d characters.", limits.MaxMessageLength))
		return false
	}

	now := s.now()
	res, err := s.recent.Allow(s.ctx, author.UserID, limits.Rule(), now)
	if err != nil {
		s.logger.Error().Err(err).Msg("local rate check failed")
		s.setError("Failed to send message.")
		return false
	}
	if !res.Allowed {
		s.setError(apperr.RateLimited(res.RetryAfter).Message)
		return false
	}

	localID := newLocalID(now)
	optimistic := UIMessage{
		Message: chat.Message{
			ID:        localID,
			Author:    author,
			Content:   content,
			ReplyToID: replyToID,
		},
		ClientID:        localID,
		ClientTimestamp: now,
		Status:          StatusSending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.recent.Forget(author.UserID, now)
		return false
	}
	s.sendErr = ""
	s.messages = append(clone(s.messages), optimistic)
	fallback := s.channel
	s.wg.Add(1)
	s.mu.Unlock()
	s.changed()

	go s.deliver(optimistic, sess.Token, fallback, now)
	return true
}

func (s *Session) deliver(m UIMessage, token, fallback string, sentAt time.Time) {
	defer s.wg.Done()

	channel := fallback
	if s.resolve != nil {
		if c, err := s.resolve(s.ctx); err == nil && c != "" {
			channel = c
		}
	}

	canonical, err := s.api.Publish(s.ctx, token, chat.PublishRequest{
		Channel:   channel,
		Content:   m.Content,
		ReplyToID: m.ReplyToID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("failed to send message")
		s.recent.Forget(m.Author.UserID, sentAt)

		msg := "Failed to send message."
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Message != "" {
			msg = appErr.Message
		}

		s.mu.Lock()
		s.sendErr = msg
		s.messages = Fail(s.messages, m.ClientID)
		s.mu.Unlock()
		s.changed()
		return
	}

	s.update(func(prev []UIMessage) []UIMessage {
		return Confirm(prev, m.ClientID, canonical)
	})
}

func (s *Session) subscribe(ctx context.Context, channel string, gen int) {
	defer s.wg.Done()

	for {
		stream, err := s.api.Subscribe(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("subscription failed")
		} else {
			s.consume(ctx, stream, gen)
			stream.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.resubscribeDelay):
		}
	}
}

func (s *Session) consume(ctx context.Context, stream *Stream, gen int) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream.Messages():
			if !ok {
				if err := stream.Err(); err != nil && ctx.Err() == nil {
					s.logger.Debug().Err(err).Msg("subscription ended")
				}
				return
			}
			s.receive(msg, gen)
		}
	}
}

func (s *Session) receive(msg chat.Message, gen int) {
	selfID := ""
	if sess, ok := s.creds.Current(); ok {
		selfID = sess.User.UserID
	}
	now := s.now()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.messages = Reconcile(s.messages, msg, selfID, now)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) fetchLimits(ctx context.Context, channel string, gen int) {
	defer s.wg.Done()

	limits, err := s.api.Limits(ctx, channel)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("failed to load chat limits")
		}
		return
	}

	s.mu.Lock()
	if gen == s.generation {
		s.limits = limits
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Session) update(fn func([]UIMessage) []UIMessage) {
	s.mu.Lock()
	s.messages = fn(s.messages)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.sendErr = msg
	s.mu.Unlock()
	s.changed()
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close stops the subscription and waits for in-flight sends to settle.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
