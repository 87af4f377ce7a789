package auth

import (
	"context"
	"strings"
	"time"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	"gamechat/internal/verification"
)

const (
	minCodeLength = 6
	maxCodeLength = 12
)

// Begin is the result of BeginVerification: the code to type in game and
// the place to type it in.
type Begin struct {
	SessionID string
	Code      string
	ExpiresAt time.Time
	PlaceID   string
}

func (s *Service) BeginVerification(ctx context.Context) Begin {
	p := s.sessions.Begin()

	l := log.Ctx(ctx)
	l.Info().Str(log.FieldSessionID, p.SessionID).Msg("verification started")

	return Begin{SessionID: p.SessionID, Code: p.Code, ExpiresAt: p.ExpiresAt, PlaceID: s.placeID}
}

// CompleteVerification is called from the game server once a player typed
// code. The caller has already proven knowledge of the shared secret.
func (s *Service) CompleteVerification(ctx context.Context, code, externalUserID string) error {
	code = strings.TrimSpace(code)
	externalUserID = strings.TrimSpace(externalUserID)

	if n := len(code); n < minCodeLength || n > maxCodeLength {
		return apperr.Validation("Code must be between %d and %d characters.", minCodeLength, maxCodeLength)
	}
	if !digitsRe.MatchString(externalUserID) {
		return apperr.Validation("User id must be numeric.")
	}

	if err := s.limits.VerificationGame.Check(ctx, externalUserID); err != nil {
		return err
	}

	sessionID, err := s.sessions.Lookup(code)
	if err != nil {
		return err
	}

	// The profile fetch happens outside the store lock; Complete re-checks
	// the session so a racing completion cannot overwrite the winner.
	sess, err := s.startSession(ctx, externalUserID)
	if err != nil {
		return err
	}

	if err := s.sessions.Complete(sessionID, code, sess); err != nil {
		return err
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldUserID, externalUserID).
		Msg("verification completed")
	return nil
}

// CheckVerification reports the state of a login attempt.
func (s *Service) CheckVerification(ctx context.Context, sessionID string) (verification.State, error) {
	if err := s.limits.VerificationCheck.Check(ctx, sessionID); err != nil {
		return verification.State{}, err
	}
	return s.sessions.Poll(sessionID), nil
}
