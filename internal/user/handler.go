package user

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gamechat/internal/apperr"
	"gamechat/internal/response"
)

// Handler serves the known-user directory. It is mounted only when a
// database is configured.
type Handler struct {
	Repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{Repo: repo}
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		response.Error(w, r, apperr.BadRequest("q is required"))
		return
	}

	users, err := h.Repo.SearchUsers(r.Context(), q)
	if err != nil {
		response.Error(w, r, apperr.Internal("user search failed", err))
		return
	}
	if users == nil {
		users = []Identity{}
	}

	response.OK(w, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Repo.GetUser(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrUserNotFound) {
		response.Error(w, r, apperr.NotFound("user not found"))
		return
	}
	if err != nil {
		response.Error(w, r, apperr.Internal("user lookup failed", err))
		return
	}

	response.OK(w, u)
}
