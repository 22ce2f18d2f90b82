package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mmcdole/kinosync/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// respondError maps err to a status code and writes it as JSON.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api error", "error", err)
	}
	body := errorBody{Error: err.Error()}
	if kind := domain.KindOf(err); kind != domain.KindUnknown {
		body.Kind = kind.String()
	}
	h.respondJSON(w, status, body)
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.respondJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindAuthExpired:
		return http.StatusUnauthorized
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindTransientNetwork:
		return http.StatusBadGateway
	case domain.KindRemoteRejected:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.badRequest(w, err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
