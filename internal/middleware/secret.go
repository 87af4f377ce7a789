package myMiddleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"gamechat/internal/apperr"
	"gamechat/internal/response"
)

const HeaderVerificationSecret = "X-Verification-Secret"

// SecretGuard protects endpoints called by the game server with a pre-shared
// secret. Only a bcrypt hash of the secret is kept in memory.
type SecretGuard struct {
	hash []byte
}

func NewSecretGuard(secret string) (*SecretGuard, error) {
	// bcrypt accepts at most 72 bytes; the secret is digested first.
	hash, err := bcrypt.GenerateFromPassword(digest(secret), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	return &SecretGuard{hash: hash}, nil
}

func (g *SecretGuard) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(HeaderVerificationSecret)
		if provided == "" || bcrypt.CompareHashAndPassword(g.hash, digest(provided)) != nil {
			response.Error(w, r, apperr.Unauthorized("Invalid verification secret."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return []byte(hex.EncodeToString(sum[:]))
}
