package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"gwi.com/live-replay/internal/core"
	"gwi.com/live-replay/internal/storage"
)

// sessionParam returns the decoded {sessionID} path segment. chi matches on
// the escaped path when one is present, so the parameter may still be escaped.
func sessionParam(r *http.Request) string {
	raw := chi.URLParam(r, "sessionID")
	if r.URL.RawPath == "" {
		return raw
	}
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service sentinels to status codes. Anything
// unrecognized is logged and answered with fallback as a 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, fallback string, attrs ...any) {
	switch {
	case errors.Is(err, core.ErrInvalidInteraction), errors.Is(err, core.ErrNothingToCreate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, storage.ErrNotConfigured):
		http.Error(w, "Media storage is not configured", http.StatusServiceUnavailable)
	case core.IsNotFound(err):
		http.Error(w, notFoundMessage(err), http.StatusNotFound)
	default:
		h.logger.Error(fallback, append(attrs, "error", err)...)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrChatNotFound):
		return "Chat not found"
	case errors.Is(err, core.ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, core.ErrNoLogs):
		return "No interaction logs found for session"
	case errors.Is(err, core.ErrNoVideoStatus):
		return "No video status for session"
	}
	return "Not found"
}
