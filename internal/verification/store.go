package verification

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamechat/internal/apperr"
	"gamechat/internal/user"
)

const (
	codeMin         = 100000
	codeMax         = 999999
	codeAttempts    = 10
	deliveredMaxTTL = time.Minute
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

// Pending is returned by Begin.
type Pending struct {
	SessionID string
	Code      string
	ExpiresAt time.Time
}

// State is the result of Poll. Code and ExpiresAt are set while pending,
// Session once verified.
type State struct {
	Status    Status
	Code      string
	ExpiresAt time.Time
	Session   *user.Session
}

type session struct {
	id        string
	code      string
	expiresAt time.Time
	completed *user.Session
}

// Store holds live verification sessions, indexed by id and by code. Every
// operation sweeps expired sessions. Lookup and Complete sweep after the
// check so a code past its TTL reports Expired once before it is dropped.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	codes    map[string]string
	ttl      time.Duration

	now     func() time.Time
	newCode func() string
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*session),
		codes:    make(map[string]string),
		ttl:      ttl,
		now:      time.Now,
		newCode:  randomCode,
	}
}

// Begin allocates a session with a code unique among live sessions.
func (s *Store) Begin() Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	sess := &session{
		id:        uuid.NewString(),
		code:      s.uniqueCode(),
		expiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.id] = sess
	s.codes[sess.code] = sess.id

	return Pending{SessionID: sess.id, Code: sess.code, ExpiresAt: sess.expiresAt}
}

// Lookup returns the id of the pending session owning code.
func (s *Store) Lookup(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	defer s.sweep(now)

	id, ok := s.codes[code]
	if !ok {
		return "", apperr.NotFound("Verification code not found.")
	}
	sess := s.sessions[id]
	if sess == nil || sess.completed != nil {
		return "", apperr.NotFound("Verification code not found.")
	}
	if !now.Before(sess.expiresAt) {
		return "", apperr.Expired("Verification code expired.")
	}
	return id, nil
}

// Complete attaches an authenticated session to a pending session and
// retires its code. The first completion wins; later ones see NotFound.
func (s *Store) Complete(sessionID, code string, result user.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	defer s.sweep(now)

	sess, ok := s.sessions[sessionID]
	if !ok || sess.code != code || sess.completed != nil {
		return apperr.NotFound("Verification code not found.")
	}
	if !now.Before(sess.expiresAt) {
		return apperr.Expired("Verification code expired.")
	}

	sess.completed = &result
	delete(s.codes, sess.code)
	return nil
}

// Poll reads the state of a session. Unknown sessions read as expired.
// Delivering a verified session shortens its lifetime so it is collected
// soon after.
func (s *Store) Poll(sessionID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	sess, ok := s.sessions[sessionID]
	if !ok {
		return State{Status: StatusExpired}
	}

	if sess.completed != nil {
		if limit := now.Add(deliveredMaxTTL); sess.expiresAt.After(limit) {
			sess.expiresAt = limit
		}
		completed := *sess.completed
		return State{Status: StatusVerified, Session: &completed}
	}

	return State{Status: StatusPending, Code: sess.code, ExpiresAt: sess.expiresAt}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.sessions)
}

func (s *Store) sweep(now time.Time) {
	for id, sess := range s.sessions {
		if now.Before(sess.expiresAt) {
			continue
		}
		delete(s.sessions, id)
		if owner, ok := s.codes[sess.code]; ok && owner == id {
			delete(s.codes, sess.code)
		}
	}
}

// uniqueCode must be called with mu held.
func (s *Store) uniqueCode() string {
	for i := 0; i < codeAttempts; i++ {
		code := s.newCode()
		if _, taken := s.codes[code]; !taken {
			return code
		}
	}
	for {
		code := fallbackCode()
		if _, taken := s.codes[code]; !taken {
			return code
		}
	}
}

func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return fallbackCode()
	}
	return big.NewInt(0).Add(n, big.NewInt(codeMin)).String()
}

func fallbackCode() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b))
}
