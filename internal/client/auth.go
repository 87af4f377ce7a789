package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	"gamechat/internal/user"
	"gamechat/internal/verification"
)

var (
	ErrVerificationExpired = errors.New("verification expired")
	ErrNotLoggedIn         = errors.New("not logged in")
)

// SessionStore persists the signed-in session between runs.
type SessionStore interface {
	Load() (*user.Session, error)
	Save(sess *user.Session) error
}

// FileStore keeps the session as JSON in a single file. A nil session
// removes the file.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*user.Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess user.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt auth store %s: %w", f.Path, err)
	}
	if sess.Token == "" {
		return nil, nil
	}
	return &sess, nil
}

func (f FileStore) Save(sess *user.Session) error {
	if sess == nil {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// Prompt is shown to the user while a login waits for the in-game code.
type Prompt struct {
	Code      string
	PlaceID   string
	ExpiresAt time.Time
}

// Authenticator owns the client's session: login by verification code,
// restore on start, and periodic refresh.
type Authenticator struct {
	api          AuthAPI
	store        SessionStore
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	refreshing atomic.Bool

	mu      sync.RWMutex
	session *user.Session
}

func NewAuthenticator(api AuthAPI, store SessionStore, pollInterval time.Duration) *Authenticator {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Authenticator{
		api:          api,
		store:        store,
		pollInterval: pollInterval,
		logger:       log.L().With().Str(log.FieldService, "auth").Logger(),
		now:          time.Now,
	}
}

// Current implements Credentials.
func (a *Authenticator) Current() (user.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return user.Session{}, false
	}
	return *a.session, true
}

// Restore refreshes a saved session. Any failure signs the user out.
func (a *Authenticator) Restore(ctx context.Context) error {
	saved, err := a.store.Load()
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to load saved session")
	}
	if saved == nil {
		return ErrNotLoggedIn
	}

	a.mu.Lock()
	a.session = saved
	a.mu.Unlock()

	if _, err := a.Refresh(ctx, true); err != nil {
		return err
	}
	return nil
}

// Refresh exchanges the current token for a fresh one. On UNAUTHORIZED, or
// any failure when clearOnAnyFailure is set, the session is cleared.
// Overlapping calls return false immediately.
func (a *Authenticator) Refresh(ctx context.Context, clearOnAnyFailure bool) (bool, error) {
	if !a.refreshing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer a.refreshing.Store(false)

	current, ok := a.Current()
	if !ok || current.Token == "" {
		a.clear()
		return false, ErrNotLoggedIn
	}

	next, err := a.api.Refresh(ctx, current.Token)
	if err != nil {
		if clearOnAnyFailure || errors.Is(err, apperr.ErrUnauthorized) {
			a.clear()
		}
		return false, err
	}

	a.apply(next)
	a.logger.Info().Str(log.FieldUserID, next.User.UserID).Msg("session refreshed")
	return true, nil
}

// Login runs the verification flow. prompt is called once with the code to
// enter in game; Login then polls until the code is used, expires or ctx
// ends.
func (a *Authenticator) Login(ctx context.Context, prompt func(Prompt)) (user.Session, error) {
	begin, err := a.api.BeginVerification(ctx)
	if err != nil {
		return user.Session{}, fmt.Errorf("failed to start verification: %w", err)
	}

	expiresAt := time.UnixMilli(begin.ExpiresAt)
	if prompt != nil {
		prompt(Prompt{Code: begin.Code, PlaceID: begin.PlaceID, ExpiresAt: expiresAt})
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		if !a.now().Before(expiresAt) {
			return user.Session{}, ErrVerificationExpired
		}

		res, err := a.api.CheckVerification(ctx, begin.SessionID)
		switch {
		case err != nil:
			a.logger.Warn().Err(err).Str(log.FieldSessionID, begin.SessionID).Msg("verification polling failed")
		case res.Status == verification.StatusVerified && res.User != nil:
			sess := user.Session{Token: res.Token, User: *res.User}
			a.apply(sess)
			return sess, nil
		case res.Status == verification.StatusExpired:
			return user.Session{}, ErrVerificationExpired
		}

		select {
		case <-ctx.Done():
			return user.Session{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunRefresh refreshes the session every interval until ctx is done.
func (a *Authenticator) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := a.Current(); !ok {
				continue
			}
			if _, err := a.Refresh(ctx, false); err != nil {
				a.logger.Warn().Err(err).Msg("periodic refresh failed")
			}
		}
	}
}

func (a *Authenticator) apply(sess user.Session) {
	a.mu.Lock()
	a.session = &sess
	a.mu.Unlock()

	if err := a.store.Save(&sess); err != nil {
		a.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

func (a *Authenticator) clear() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	if err := a.store.Save(nil); err != nil {
		a.logger.Warn().Err(err).Msg("failed to clear saved session")
	}
}
