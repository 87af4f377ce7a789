package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"gamechat/internal/apperr"
	"gamechat/internal/chat"
	myMiddleware "gamechat/internal/middleware"
	"gamechat/internal/ratelimit"
	"gamechat/internal/user"
)

type tokenTable map[string]user.Identity

func (tt tokenTable) ValidateToken(token string) (user.Identity, error) {
	if u, ok := tt[token]; ok {
		return u, nil
	}
	return user.Identity{}, apperr.Unauthorized("Invalid token.")
}

// newChatServer runs the real chat routes behind httptest and returns a
// client pointed at them. alice's token is "token-1".
func newChatServer(t *testing.T, overrides string) *HTTPClient {
	t.Helper()
	limits := chat.NewLimitsResolver(FallbackLimits, overrides, zerolog.Nop())
	svc := chat.NewService(chat.NewHub(0), limits, ratelimit.NewMemoryStore())
	auth := myMiddleware.NewAuthMiddleware(tokenTable{"token-1": alice})

	r := chi.NewRouter()
	r.Mount("/chat", chat.NewHandler(svc).Routes(auth.Handle))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL)
}

type stubSource struct {
	channel chan string
	last    string
}

func (s *stubSource) CurrentChannel(context.Context) (string, error) {
	select {
	case c := <-s.channel:
		s.last = c
	default:
	}
	return s.last, nil
}

func subscribeTo(t *testing.T, api *HTTPClient, channel string) *Stream {
	t.Helper()
	stream, err := api.Subscribe(context.Background(), channel)
	if err != nil {
		t.Fatalf("subscribe %s: %v", channel, err)
	}
	t.Cleanup(stream.Close)
	return stream
}

func nextMessage(t *testing.T, stream *Stream, within time.Duration) chat.Message {
	t.Helper()
	select {
	case msg, ok := <-stream.Messages():
		if !ok {
			t.Fatalf("stream closed: %v", stream.Err())
		}
		return msg
	case <-time.After(within):
		t.Fatal("timed out waiting for message")
		return chat.Message{}
	}
}

func TestAutoJoinAnnouncesNewChannel(t *testing.T) {
	api := newChatServer(t, "")
	watcher := subscribeTo(t, api, "12345")

	source := &stubSource{channel: make(chan string, 1), last: "global"}
	tracker := NewTracker(source, time.Hour)
	joiner := NewAutoJoiner(api, loggedIn(alice), func() string { return "joined the server" })
	t.Cleanup(joiner.Stop)
	tracker.OnChange(joiner.HandleChange)

	// The first observation does not announce.
	if _, err := tracker.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if joiner.Pending() != 0 {
		t.Fatal("initial observation should not schedule a join message")
	}

	source.channel <- "12345"
	if _, err := tracker.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg := nextMessage(t, watcher, 3*time.Second)
	if msg.Content != "joined the server" || msg.Author.UserID != alice.UserID {
		t.Errorf("unexpected join message %+v", msg)
	}
}

func TestAutoJoinRetriesOnceWhenRateLimited(t *testing.T) {
	api := newChatServer(t, `{"12345":{"rateLimitCount":1,"rateLimitWindowMs":400}}`)
	watcher := subscribeTo(t, api, "12345")

	if _, err := api.Publish(context.Background(), "token-1", chat.PublishRequest{Channel: "12345", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	nextMessage(t, watcher, time.Second)

	joiner := NewAutoJoiner(api, loggedIn(alice), func() string { return "   " })
	t.Cleanup(joiner.Stop)
	joiner.Schedule("12345", 0)

	msg := nextMessage(t, watcher, 3*time.Second)
	if msg.Content != "joined the server" {
		t.Errorf("expected default join text after retry, got %q", msg.Content)
	}
}

func TestAutoJoinSingleTimerPerChannel(t *testing.T) {
	api := newFakeAPI()
	joiner := NewAutoJoiner(api, loggedIn(alice), func() string { return "hey" })
	t.Cleanup(joiner.Stop)

	joiner.Schedule("12345", 50*time.Millisecond)
	joiner.Schedule("12345", 50*time.Millisecond)
	joiner.Schedule("999", time.Hour)
	if joiner.Pending() != 2 {
		t.Fatalf("expected one timer per channel, got %d", joiner.Pending())
	}

	waitFor(t, "join publish", func() bool { return api.publishCount() == 1 })
	time.Sleep(100 * time.Millisecond)
	if api.publishCount() != 1 {
		t.Errorf("replaced timer must not fire, got %d publishes", api.publishCount())
	}

	joiner.Stop()
	if joiner.Pending() != 0 {
		t.Error("stop should cancel pending timers")
	}
	joiner.Schedule("12345", 0)
	time.Sleep(50 * time.Millisecond)
	if api.publishCount() != 1 {
		t.Error("stopped joiner must not publish")
	}
}

func TestAutoJoinSkipsWhenSignedOut(t *testing.T) {
	api := newFakeAPI()
	joiner := NewAutoJoiner(api, staticCreds{}, func() string { return "hey" })
	t.Cleanup(joiner.Stop)

	joiner.HandleChange(ChannelChange{Previous: "global", Current: "12345"})
	waitFor(t, "timer", func() bool { return joiner.Pending() == 0 })
	time.Sleep(20 * time.Millisecond)
	if api.publishCount() != 0 {
		t.Error("no publish expected while signed out")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"structured", apperr.RateLimited(1500 * time.Millisecond), 1500 * time.Millisecond},
		{"text only", &apperr.Error{Kind: apperr.KindRateLimited, Message: "Rate limit hit. Try again in 3s."}, 3 * time.Second},
		{"neither", &apperr.Error{Kind: apperr.KindRateLimited}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryDelay(tt.err); got != tt.want {
				t.Errorf("retryDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackerNotifiesTransitions(t *testing.T) {
	source := &stubSource{channel: make(chan string, 1), last: ""}
	tracker := NewTracker(source, time.Hour)

	if tracker.Current() != DefaultChannel {
		t.Fatalf("expected default before first observation, got %q", tracker.Current())
	}

	var changes []ChannelChange
	tracker.OnChange(func(c ChannelChange) { changes = append(changes, c) })

	ctx := context.Background()
	tracker.Refresh(ctx)
	tracker.Refresh(ctx)
	source.channel <- "abc"
	tracker.Refresh(ctx)
	source.channel <- ""
	tracker.Refresh(ctx)

	want := []ChannelChange{
		{Previous: "", Current: "global", Initial: true},
		{Previous: "global", Current: "abc"},
		{Previous: "abc", Current: "global"},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}
