package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	"gamechat/internal/response"
	"gamechat/internal/user"
)

type contextKey string

const IdentityKey contextKey = "identity"

// TokenValidator decouples the middleware from the auth service.
type TokenValidator interface {
	ValidateToken(tokenString string) (user.Identity, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle requires a valid session token, read from the Authorization header
// or, for websocket upgrades, the token query parameter.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			response.Error(w, r, apperr.Unauthorized("You must be logged in."))
			return
		}

		identity, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			response.Error(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		l := log.Ctx(ctx).With().Str(log.FieldUserID, identity.UserID).Logger()
		ctx = log.WithLogger(ctx, l)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the caller identity stored by Handle.
func IdentityFrom(ctx context.Context) (user.Identity, bool) {
	u, ok := ctx.Value(IdentityKey).(user.Identity)
	return u, ok
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
