package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const oauthStateCookie = "oauth_state"

func (h *APIHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Error(w, "Google login is not configured", http.StatusNotFound)
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// GoogleCallbackHandler finishes the OAuth flow and answers with a session token.
func (h *APIHandler) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Error(w, "Google login is not configured", http.StatusNotFound)
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/api/auth/google", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}
	googleUser, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("google oauth exchange failed", "error", err)
		http.Error(w, "Google login failed", http.StatusUnauthorized)
		return
	}

	user, err := h.chatService.GetOrCreateUser(r.Context(), googleUser.ExternalID(), googleUser.Email)
	if err != nil {
		h.logger.Error("failed to create oauth user", "external_user_id", googleUser.ExternalID(), "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	h.issueToken(w, user.ExternalUserID)
}
