package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	"gamechat/internal/ratelimit"
	"gamechat/internal/user"
	"gamechat/internal/verification"
)

const issuer = "gamechat"

var digitsRe = regexp.MustCompile(`^\d+$`)

// Claims is the session token payload.
type Claims struct {
	User user.Identity `json:"user"`
	jwt.RegisteredClaims
}

// Directory records identities that authenticated successfully.
type Directory interface {
	Upsert(ctx context.Context, u user.Identity) error
}

// Limiters groups the per-purpose auth rate limits.
type Limiters struct {
	Refresh           *ratelimit.Limiter
	VerificationGame  *ratelimit.Limiter
	VerificationCheck *ratelimit.Limiter
}

// DefaultLimiters builds the auth limits over store: refresh 4 per hour per
// user, game completion 20 per minute per user, status checks 60 per minute
// per session.
func DefaultLimiters(store ratelimit.Store) Limiters {
	return Limiters{
		Refresh:           ratelimit.NewLimiter(store, "refresh", ratelimit.Rule{Count: 4, Window: time.Hour}),
		VerificationGame:  ratelimit.NewLimiter(store, "verify-game", ratelimit.Rule{Count: 20, Window: time.Minute}),
		VerificationCheck: ratelimit.NewLimiter(store, "verify-check", ratelimit.Rule{Count: 60, Window: time.Minute}),
	}
}

type Config struct {
	Secret   string
	TokenTTL time.Duration
	PlaceID  string
}

type Service struct {
	secret   []byte
	tokenTTL time.Duration
	placeID  string

	profiles  user.Lookup
	directory Directory
	sessions  *verification.Store
	limits    Limiters

	now func() time.Time
}

// NewService wires the session service. directory may be nil.
func NewService(cfg Config, profiles user.Lookup, sessions *verification.Store, limits Limiters, directory Directory) *Service {
	return &Service{
		secret:    []byte(cfg.Secret),
		tokenTTL:  cfg.TokenTTL,
		placeID:   cfg.PlaceID,
		profiles:  profiles,
		directory: directory,
		sessions:  sessions,
		limits:    limits,
		now:       time.Now,
	}
}

// Issue signs a token for u.
func (s *Service) Issue(u user.Identity) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		User: u,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	ss, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperr.Internal("failed to sign token", err)
	}
	return ss, nil
}

// ValidateToken verifies signature and expiry and returns the embedded
// identity.
func (s *Service) ValidateToken(tokenString string) (user.Identity, error) {
	claims, err := s.parse(tokenString, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return user.Identity{}, err
	}
	return claims.User, nil
}

// Refresh accepts an expired but authentic token, reloads the profile and
// signs a new token.
func (s *Service) Refresh(ctx context.Context, tokenString string) (user.Session, error) {
	claims, err := s.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return user.Session{}, err
	}

	userID := claims.User.UserID
	if !digitsRe.MatchString(userID) {
		return user.Session{}, apperr.Unauthorized("Invalid token.")
	}

	if err := s.limits.Refresh.Check(ctx, userID); err != nil {
		return user.Session{}, err
	}

	return s.startSession(ctx, userID)
}

func (s *Service) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("Token expired.")
		}
		return nil, apperr.Unauthorized("Invalid token.")
	}
	return claims, nil
}

// startSession fetches the current profile for userID and issues a token.
func (s *Service) startSession(ctx context.Context, userID string) (user.Session, error) {
	identity, err := s.profiles.Identity(ctx, userID)
	if err != nil {
		return user.Session{}, err
	}

	token, err := s.Issue(identity)
	if err != nil {
		return user.Session{}, err
	}

	if s.directory != nil {
		if err := s.directory.Upsert(ctx, identity); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to record known user")
		}
	}

	return user.Session{Token: token, User: identity}, nil
}
