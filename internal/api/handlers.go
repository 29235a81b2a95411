package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gwi.com/live-replay/internal/auth"
	"gwi.com/live-replay/internal/core"
	"gwi.com/live-replay/internal/store"
	"gwi.com/live-replay/pkg/logging"
)

type ctxKey string

const (
	userIDKey         ctxKey = "userID"
	externalUserIDKey ctxKey = "externalUserID"
)

// UserIDFromContext returns the authenticated user's internal id.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func externalUserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(externalUserIDKey).(string)
	return id
}

// Dependencies wires the services behind the HTTP surface. Uploads and OAuth may be nil.
type Dependencies struct {
	Chats        *core.ChatService
	Interactions *core.InteractionService
	Replays      *core.ReplayService
	Uploads      ObjectUploader
	Tokens       *auth.TokenManager
	OAuth        *auth.GoogleOAuth
	SignedURLTTL time.Duration
	Logger       *logging.Logger
}

type APIHandler struct {
	chatService        *core.ChatService
	interactionService *core.InteractionService
	replayService      *core.ReplayService
	uploads            ObjectUploader
	tokens             *auth.TokenManager
	oauth              *auth.GoogleOAuth
	signedURLTTL       time.Duration
	logger             *logging.Logger
}

func NewAPIHandler(deps Dependencies) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := deps.SignedURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &APIHandler{
		chatService:        deps.Chats,
		interactionService: deps.Interactions,
		replayService:      deps.Replays,
		uploads:            deps.Uploads,
		tokens:             deps.Tokens,
		oauth:              deps.OAuth,
		signedURLTTL:       ttl,
		logger:             logger,
	}
}

// JWTAuthMiddleware accepts "Authorization: Bearer <token>" or, for websocket
// upgrades that cannot set headers, a token query parameter.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		externalUserID, err := h.tokens.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.chatService.GetUserByExternalID(r.Context(), externalUserID)
		if err != nil {
			h.logger.Error("failed to resolve user identity", "external_user_id", externalUserID, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		ctx = context.WithValue(ctx, externalUserIDKey, user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.chatService.RegisterUser(r.Context(), req.UserID, req.Email, hashedPassword)
	if err != nil {
		if errors.Is(err, core.ErrUserExists) {
			http.Error(w, "User already exists", http.StatusConflict)
			return
		}
		h.logger.Error("failed to create user", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.chatService.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("failed to load user", "user_id", req.UserID, "error", err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issueToken(w, req.UserID)
}

func (h *APIHandler) issueToken(w http.ResponseWriter, externalUserID string) {
	token, err := h.tokens.GenerateJWT(externalUserID)
	if err != nil {
		h.logger.Error("failed to generate token", "user_id", externalUserID, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type CreateChatRequest struct {
	FirstMessage *string `json:"first_message,omitempty"`
}

type CreateChatResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages,omitempty"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req CreateChatRequest
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	chat, messages, err := h.chatService.CreateChat(r.Context(), userID, req.FirstMessage)
	if err != nil {
		h.logger.Error("failed to create chat", "user_id", userID, "error", err)
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, CreateChatResponse{Chat: chat, Messages: messages})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	chats, err := h.chatService.GetChats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list chats", "user_id", userID, "error", err)
		http.Error(w, "Failed to list chats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type GetChatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	chat, messages, err := h.chatService.GetChatDetails(r.Context(), chatID, userID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get chat details", "chat_id", chatID)
		return
	}
	writeJSON(w, http.StatusOK, GetChatDetailsResponse{Chat: chat, Messages: messages})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	if err := h.chatService.DeleteChat(r.Context(), chatID, userID); err != nil {
		h.writeServiceError(w, err, "Failed to delete chat", "chat_id", chatID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	modelMessage, err := h.chatService.PostMessage(r.Context(), chatID, userID, req.Content)
	if err != nil {
		h.writeServiceError(w, err, "Failed to post message", "chat_id", chatID)
		return
	}
	writeJSON(w, http.StatusOK, modelMessage)
}

type FeedbackRequest struct {
	Negative bool `json:"negative"`
}

func (h *APIHandler) MessageFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.SetMessageFeedback(r.Context(), messageID, userID, req.Negative); err != nil {
		h.writeServiceError(w, err, "Failed to set feedback", "message_id", messageID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
