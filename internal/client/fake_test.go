package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"gamechat/internal/chat"
	"gamechat/internal/user"
)

var (
	alice = user.Identity{UserID: "1", Username: "alice", DisplayName: "Alice"}
	bob   = user.Identity{UserID: "2", Username: "bob", DisplayName: "Bob"}
)

type staticCreds struct {
	sess *user.Session
}

func (c staticCreds) Current() (user.Session, bool) {
	if c.sess == nil {
		return user.Session{}, false
	}
	return *c.sess, true
}

func loggedIn(u user.Identity) staticCreds {
	return staticCreds{sess: &user.Session{Token: "token-" + u.UserID, User: u}}
}

type fakeStream struct {
	ch     chan chat.Message
	closed bool
}

// fakeAPI records calls and lets tests push messages to subscribers.
type fakeAPI struct {
	mu        sync.Mutex
	limits    map[string]chat.Limits
	published []chat.PublishRequest
	publish   func(req chat.PublishRequest) (chat.Message, error)
	streams   map[string][]*fakeStream
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{limits: map[string]chat.Limits{}, streams: map[string][]*fakeStream{}}
}

func (f *fakeAPI) Limits(_ context.Context, channel string) (chat.Limits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limits[channel]; ok {
		return l, nil
	}
	return FallbackLimits, nil
}

func (f *fakeAPI) Publish(_ context.Context, token string, req chat.PublishRequest) (chat.Message, error) {
	f.mu.Lock()
	f.published = append(f.published, req)
	fn := f.publish
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return chat.Message{ID: uuid.NewString(), Author: alice, Content: req.Content, ReplyToID: req.ReplyToID}, nil
}

func (f *fakeAPI) Subscribe(_ context.Context, channel string) (*Stream, error) {
	fs := &fakeStream{ch: make(chan chat.Message, 16)}

	f.mu.Lock()
	f.streams[channel] = append(f.streams[channel], fs)
	f.mu.Unlock()

	return &Stream{
		msgs: fs.ch,
		closeFn: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if !fs.closed {
				fs.closed = true
				close(fs.ch)
			}
		},
	}, nil
}

// push delivers msg to every open stream on channel.
func (f *fakeAPI) push(channel string, msg chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.streams[channel] {
		if !s.closed {
			s.ch <- msg
		}
	}
}

func (f *fakeAPI) openStreams(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.streams[channel] {
		if !s.closed {
			n++
		}
	}
	return n
}

func (f *fakeAPI) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
