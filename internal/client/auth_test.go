package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gamechat/internal/apperr"
	"gamechat/internal/auth"
	"gamechat/internal/user"
	"gamechat/internal/verification"
)

type memoryStore struct {
	mu   sync.Mutex
	sess *user.Session
}

func (m *memoryStore) Load() (*user.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, nil
}

func (m *memoryStore) Save(sess *user.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = sess
	return nil
}

type fakeAuthAPI struct {
	mu         sync.Mutex
	expiresAt  time.Time
	checks     []auth.CheckResponse
	checkCalls int
	refresh    func(token string) (user.Session, error)
}

func (f *fakeAuthAPI) BeginVerification(context.Context) (auth.BeginResponse, error) {
	return auth.BeginResponse{
		SessionID: "8f14e45f-ceea-4a7f-9c4e-2a1d5b3c6d7e",
		Code:      "123456",
		ExpiresAt: f.expiresAt.UnixMilli(),
		PlaceID:   "99",
	}, nil
}

func (f *fakeAuthAPI) CheckVerification(context.Context, string) (auth.CheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.checkCalls
	f.checkCalls++
	if i >= len(f.checks) {
		i = len(f.checks) - 1
	}
	return f.checks[i], nil
}

func (f *fakeAuthAPI) Refresh(_ context.Context, token string) (user.Session, error) {
	return f.refresh(token)
}

func TestLoginPollsUntilVerified(t *testing.T) {
	api := &fakeAuthAPI{
		expiresAt: time.Now().Add(time.Minute),
		checks: []auth.CheckResponse{
			{Status: verification.StatusPending, Code: "123456"},
			{Status: verification.StatusPending, Code: "123456"},
			{Status: verification.StatusVerified, Token: "jwt", User: &alice},
		},
	}
	store := &memoryStore{}
	a := NewAuthenticator(api, store, 5*time.Millisecond)

	var prompted Prompt
	sess, err := a.Login(context.Background(), func(p Prompt) { prompted = p })
	if err != nil {
		t.Fatal(err)
	}
	if prompted.Code != "123456" || prompted.PlaceID != "99" {
		t.Errorf("unexpected prompt %+v", prompted)
	}
	if sess.Token != "jwt" || sess.User.UserID != alice.UserID {
		t.Errorf("unexpected session %+v", sess)
	}
	if cur, ok := a.Current(); !ok || cur.Token != "jwt" {
		t.Error("login should set the current session")
	}
	if saved, _ := store.Load(); saved == nil || saved.Token != "jwt" {
		t.Error("login should persist the session")
	}
	if api.checkCalls != 3 {
		t.Errorf("expected 3 polls, got %d", api.checkCalls)
	}
}

func TestLoginExpires(t *testing.T) {
	api := &fakeAuthAPI{
		expiresAt: time.Now().Add(time.Minute),
		checks:    []auth.CheckResponse{{Status: verification.StatusExpired}},
	}
	a := NewAuthenticator(api, &memoryStore{}, 5*time.Millisecond)

	if _, err := a.Login(context.Background(), nil); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("expected ErrVerificationExpired, got %v", err)
	}

	api = &fakeAuthAPI{
		expiresAt: time.Now().Add(30 * time.Millisecond),
		checks:    []auth.CheckResponse{{Status: verification.StatusPending}},
	}
	a = NewAuthenticator(api, &memoryStore{}, 5*time.Millisecond)
	if _, err := a.Login(context.Background(), nil); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("expected local deadline to expire the login, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	refreshed := user.Session{Token: "fresh", User: alice}

	t.Run("nothing saved", func(t *testing.T) {
		a := NewAuthenticator(&fakeAuthAPI{}, &memoryStore{}, time.Second)
		if err := a.Restore(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
			t.Errorf("expected ErrNotLoggedIn, got %v", err)
		}
	})

	t.Run("refreshes saved token", func(t *testing.T) {
		store := &memoryStore{sess: &user.Session{Token: "stale", User: alice}}
		api := &fakeAuthAPI{refresh: func(token string) (user.Session, error) {
			if token != "stale" {
				t.Errorf("expected saved token, got %q", token)
			}
			return refreshed, nil
		}}
		a := NewAuthenticator(api, store, time.Second)
		if err := a.Restore(context.Background()); err != nil {
			t.Fatal(err)
		}
		if cur, _ := a.Current(); cur.Token != "fresh" {
			t.Errorf("expected refreshed token, got %q", cur.Token)
		}
	})

	t.Run("any failure signs out", func(t *testing.T) {
		store := &memoryStore{sess: &user.Session{Token: "stale", User: alice}}
		api := &fakeAuthAPI{refresh: func(string) (user.Session, error) {
			return user.Session{}, apperr.Upstream("failed to fetch user profile", errors.New("boom"))
		}}
		a := NewAuthenticator(api, store, time.Second)
		if err := a.Restore(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if _, ok := a.Current(); ok {
			t.Error("session should be cleared")
		}
		if saved, _ := store.Load(); saved != nil {
			t.Error("saved session should be removed")
		}
	})
}

func TestPeriodicRefreshKeepsSessionOnTransientError(t *testing.T) {
	store := &memoryStore{sess: &user.Session{Token: "t1", User: alice}}
	calls := 0
	api := &fakeAuthAPI{refresh: func(string) (user.Session, error) {
		calls++
		if calls == 1 {
			return user.Session{Token: "t2", User: alice}, nil
		}
		return user.Session{}, errors.New("connection refused")
	}}
	a := NewAuthenticator(api, store, time.Second)
	if err := a.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	if ok, err := a.Refresh(context.Background(), false); ok || err == nil {
		t.Fatal("expected transient failure")
	}
	if cur, ok := a.Current(); !ok || cur.Token != "t2" {
		t.Error("transient failure must keep the session")
	}

	api.refresh = func(string) (user.Session, error) {
		return user.Session{}, apperr.Unauthorized("Token expired.")
	}
	a.Refresh(context.Background(), false)
	if _, ok := a.Current(); ok {
		t.Error("unauthorized must clear the session")
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth.json")
	store := FileStore{Path: path}

	if sess, err := store.Load(); err != nil || sess != nil {
		t.Fatalf("missing file should load as nil, got (%v, %v)", sess, err)
	}

	want := &user.Session{Token: "jwt", User: alice}
	if err := store.Save(want); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}

	got, err := store.Load()
	if err != nil || got == nil || *got != *want {
		t.Fatalf("round trip mismatch: (%+v, %v)", got, err)
	}

	if err := store.Save(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nil save should remove the file")
	}
	if err := store.Save(nil); err != nil {
		t.Errorf("removing twice should not fail: %v", err)
	}
}
