package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gamechat/internal/log"
)

// ChannelSource reports the channel the player is currently in.
type ChannelSource interface {
	CurrentChannel(ctx context.Context) (string, error)
}

// ChannelChange describes a transition. Initial is set for the first
// observation, when there is no previous channel to leave.
type ChannelChange struct {
	Previous string
	Current  string
	Initial  bool
}

// Tracker polls a ChannelSource and notifies listeners of transitions.
type Tracker struct {
	source   ChannelSource
	interval time.Duration
	logger   zerolog.Logger

	refreshMu sync.Mutex

	mu        sync.Mutex
	current   string
	known     bool
	listeners []func(ChannelChange)
}

func NewTracker(source ChannelSource, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		source:   source,
		interval: interval,
		logger:   log.L().With().Str(log.FieldService, "channel-tracker").Logger(),
	}
}

// OnChange registers fn. Listeners run synchronously on the goroutine that
// observed the change, in registration order.
func (t *Tracker) OnChange(fn func(ChannelChange)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Current returns the last observed channel, or DefaultChannel before the
// first observation.
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.known {
		return DefaultChannel
	}
	return t.current
}

// Refresh reads the source now and notifies on change. It is safe to call
// concurrently with Run; observations are serialised.
func (t *Tracker) Refresh(ctx context.Context) (string, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	next, err := t.source.CurrentChannel(ctx)
	if err != nil {
		return t.Current(), err
	}
	if next == "" {
		next = DefaultChannel
	}

	t.mu.Lock()
	if t.known && t.current == next {
		t.mu.Unlock()
		return next, nil
	}
	change := ChannelChange{Previous: t.current, Current: next, Initial: !t.known}
	t.current = next
	t.known = true
	listeners := append([]func(ChannelChange){}, t.listeners...)
	t.mu.Unlock()

	t.logger.Info().
		Str("previous", change.Previous).
		Str(log.FieldChannel, change.Current).
		Bool("initial", change.Initial).
		Msg("channel changed")

	for _, fn := range listeners {
		fn(change)
	}
	return next, nil
}

// Resolver adapts Refresh for the session's send path.
func (t *Tracker) Resolver() ChannelResolver {
	return func(ctx context.Context) (string, error) {
		return t.Refresh(ctx)
	}
}

// Run polls until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if _, err := t.Refresh(ctx); err != nil {
		t.logger.Error().Err(err).Msg("failed to sync channel")
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Refresh(ctx); err != nil {
				t.logger.Error().Err(err).Msg("failed to sync channel")
			}
		}
	}
}
