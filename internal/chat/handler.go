package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
	myMiddleware "gamechat/internal/middleware"
	"gamechat/internal/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The desktop client is not a browser; there is no origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the chat endpoints. requireAuth guards publishing only;
// limits and subscriptions are public.
func (h *Handler) Routes(requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/limits", h.Limits)
	r.Get("/subscribe", h.Subscribe)
	r.With(requireAuth).Post("/publish", h.Publish)
	return r
}

func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		response.Error(w, r, apperr.BadRequest("channel is required"))
		return
	}
	response.OK(w, h.service.Limits(channel))
}

// Publish requires the auth middleware in front of it.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	author, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized("You must be logged in to send messages."))
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, apperr.BadRequest("invalid request body"))
		return
	}

	msg, err := h.service.Publish(r.Context(), req.Channel, req.Content, req.ReplyToID, author)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, msg)
}

// Subscribe upgrades to a websocket that streams every message published to
// the channel from now on.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		response.Error(w, r, apperr.BadRequest("channel is required"))
		return
	}

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	sub := h.service.Subscribe(channel)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:   conn,
		sub:    sub,
		logger: log.Ctx(r.Context()).With().Str(log.FieldChannel, channel).Logger(),
	}

	go client.writePump()
	go client.readPump()
}
