package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"gamechat/internal/apperr"
	"gamechat/internal/log"
)

// Response represents a standard API response.
type Response struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

// JSON writes v wrapped in a success envelope.
func JSON(w http.ResponseWriter, status int, v any) {
	write(w, status, Response{Success: true, Data: v})
}

// OK sends a 200 success response.
func OK(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, v)
}

// Error converts err into a typed error envelope. Untyped errors are
// reported as INTERNAL_ERROR without leaking their text.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("internal server error", err)
	}

	status := apperr.HTTPStatus(appErr.Kind)
	if status >= http.StatusInternalServerError {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Str("code", string(appErr.Kind)).Msg("request failed")
	}

	write(w, status, Response{Success: false, Error: appErr})
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
