package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gamechat/internal/apperr"
	"gamechat/internal/response"
	"gamechat/internal/user"
	"gamechat/internal/verification"
)

type BeginResponse struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
	PlaceID   string `json:"placeId"`
}

type CompleteRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type CheckRequest struct {
	SessionID string `json:"sessionId"`
}

// CheckResponse is a union keyed by Status.
type CheckResponse struct {
	Status    verification.Status `json:"status"`
	ExpiresAt int64               `json:"expiresAt,omitempty"`
	Code      string              `json:"code,omitempty"`
	Token     string              `json:"token,omitempty"`
	User      *user.Identity      `json:"user,omitempty"`
}

type RefreshRequest struct {
	Token string `json:"token"`
}

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// Routes mounts the auth endpoints. guard protects the game-server call.
func (h *Handler) Routes(guard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/verification/begin", h.Begin)
	r.With(guard).Post("/verification/complete", h.Complete)
	r.Post("/verification/check", h.Check)
	r.Post("/refresh", h.Refresh)
	return r
}

func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	b := h.Service.BeginVerification(r.Context())
	response.OK(w, BeginResponse{
		SessionID: b.SessionID,
		Code:      b.Code,
		ExpiresAt: b.ExpiresAt.UnixMilli(),
		PlaceID:   b.PlaceID,
	})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, apperr.BadRequest("invalid request body"))
		return
	}

	if err := h.Service.CompleteVerification(r.Context(), req.Code, req.UserID); err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, map[string]bool{"ok": true})
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, apperr.BadRequest("invalid request body"))
		return
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		response.Error(w, r, apperr.BadRequest("sessionId must be a uuid"))
		return
	}

	st, err := h.Service.CheckVerification(r.Context(), req.SessionID)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	res := CheckResponse{Status: st.Status}
	switch st.Status {
	case verification.StatusPending:
		res.ExpiresAt = st.ExpiresAt.UnixMilli()
		res.Code = st.Code
	case verification.StatusVerified:
		res.Token = st.Session.Token
		res.User = &st.Session.User
	}
	response.OK(w, res)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		response.Error(w, r, apperr.BadRequest("token is required"))
		return
	}

	sess, err := h.Service.Refresh(r.Context(), req.Token)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, sess)
}
