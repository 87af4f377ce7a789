package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gamechat/internal/apperr"
	"gamechat/internal/chat"
	"gamechat/internal/client"
	"gamechat/internal/log"
)

const (
	Channel         = "loadtest"
	SubscriberCount = 200 // websocket listeners on the channel
	MsgCount        = 20  // messages per token
)

// Tokens come from LOADTEST_TOKENS (comma separated) since signing in needs
// the in-game verification flow.
func main() {
	log.Init(log.Config{Level: "info", Pretty: true, ServiceName: "loadtest"})
	logger := log.L()

	baseURL := os.Getenv("API_URL")
	tokens := splitTokens(os.Getenv("LOADTEST_TOKENS"))
	if len(tokens) == 0 {
		logger.Fatal().Msg("LOADTEST_TOKENS is not set")
	}

	api := client.NewHTTPClient(baseURL)
	ctx := context.Background()

	limits, err := api.Limits(ctx, Channel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load channel limits")
	}
	// Stay just under the sliding window so the server never rejects.
	pace := time.Duration(limits.RateLimitWindowMs)*time.Millisecond/time.Duration(limits.RateLimitCount) + 50*time.Millisecond

	logger.Info().
		Int("subscribers", SubscriberCount).
		Int("publishers", len(tokens)).
		Int("messages_each", MsgCount).
		Dur("pace", pace).
		Msg("starting stress test")

	var delivered atomic.Int64
	subCtx, stopSubs := context.WithCancel(ctx)
	var (
		subWg      sync.WaitGroup
		subscribed int64
	)
	for i := 0; i < SubscriberCount; i++ {
		stream, err := api.Subscribe(subCtx, Channel)
		if err != nil {
			logger.Error().Err(err).Int("subscriber", i).Msg("subscribe failed")
			continue
		}
		subscribed++
		subWg.Add(1)
		go func() {
			defer subWg.Done()
			for range stream.Messages() {
				delivered.Add(1)
			}
		}()
		go func() {
			<-subCtx.Done()
			stream.Close()
		}()
	}

	start := time.Now()
	var sent, rejected atomic.Int64
	var pubWg sync.WaitGroup
	for i, token := range tokens {
		pubWg.Add(1)
		go func(id int, token string) {
			defer pubWg.Done()
			for n := 0; n < MsgCount; n++ {
				_, err := api.Publish(ctx, token, chat.PublishRequest{
					Channel: Channel,
					Content: fmt.Sprintf("LoadTest Msg %d from publisher %d", n, id),
				})
				switch {
				case err == nil:
					sent.Add(1)
				case errors.Is(err, apperr.ErrRateLimited):
					rejected.Add(1)
				default:
					logger.Error().Err(err).Int("publisher", id).Msg("publish failed")
					return
				}
				time.Sleep(pace)
			}
		}(i, token)
	}
	pubWg.Wait()

	// Give the fan-out a moment to drain.
	time.Sleep(2 * time.Second)
	stopSubs()
	subWg.Wait()

	expected := sent.Load() * subscribed
	logger.Info().
		Int64("sent", sent.Load()).
		Int64("rate_limited", rejected.Load()).
		Int64("delivered", delivered.Load()).
		Int64("expected", expected).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func splitTokens(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
