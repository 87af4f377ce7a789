package client

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gamechat/internal/apperr"
	"gamechat/internal/chat"
	"gamechat/internal/config"
	"gamechat/internal/log"
)

var retryInRe = regexp.MustCompile(`Try again in (\d+)s`)

// AutoJoiner announces the player in a channel they just moved to. A
// rate-limited announcement is retried once after the suggested delay;
// other failures are dropped.
type AutoJoiner struct {
	api     API
	creds   Credentials
	message func() string
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewAutoJoiner(api API, creds Credentials, message func() string) *AutoJoiner {
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoJoiner{
		api:     api,
		creds:   creds,
		message: message,
		logger:  log.L().With().Str(log.FieldService, "auto-join").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*time.Timer),
	}
}

// HandleChange is a Tracker listener.
func (a *AutoJoiner) HandleChange(c ChannelChange) {
	if c.Initial || c.Current == c.Previous {
		return
	}
	a.Schedule(c.Current, 0)
}

// Schedule queues the join message for channel after delay, replacing any
// timer already pending for that channel.
func (a *AutoJoiner) Schedule(channel string, delay time.Duration) {
	a.schedule(channel, delay, true)
}

func (a *AutoJoiner) schedule(channel string, delay time.Duration, retry bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	if t, ok := a.timers[channel]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		a.mu.Lock()
		if a.timers[channel] != timer {
			a.mu.Unlock()
			return
		}
		delete(a.timers, channel)
		a.mu.Unlock()

		a.send(channel, retry)
	})
	a.timers[channel] = timer
}

func (a *AutoJoiner) send(channel string, retry bool) {
	sess, ok := a.creds.Current()
	if !ok {
		return
	}

	text := strings.TrimSpace(a.message())
	if text == "" {
		text = config.DefaultJoinMessage
	}

	_, err := a.api.Publish(a.ctx, sess.Token, chat.PublishRequest{Channel: channel, Content: text})
	if err == nil {
		return
	}
	if a.ctx.Err() != nil {
		return
	}

	if retry && errors.Is(err, apperr.ErrRateLimited) {
		delay := retryDelay(err)
		a.logger.Info().Str(log.FieldChannel, channel).Dur("retry_in", delay).Msg("join message rate limited, retrying")
		a.schedule(channel, delay, false)
		return
	}

	a.logger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("failed to send join message")
}

// Pending reports how many join messages are waiting to fire.
func (a *AutoJoiner) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

// Stop cancels pending timers and any in-flight send.
func (a *AutoJoiner) Stop() {
	a.mu.Lock()
	a.stopped = true
	for channel, t := range a.timers {
		t.Stop()
		delete(a.timers, channel)
	}
	a.mu.Unlock()
	a.cancel()
}

// retryDelay prefers the structured delay and falls back to the seconds in
// the error text.
func retryDelay(err error) time.Duration {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.RetryAfterMs > 0 {
		return appErr.RetryAfter()
	}
	if m := retryInRe.FindStringSubmatch(err.Error()); m != nil {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
