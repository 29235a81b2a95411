package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gwi.com/live-replay/internal/store"
)

const (
	senderUser  = "user"
	senderModel = "model"

	chatDetailsLimit  = 100
	titleTimeout      = 30 * time.Second
	replyErrorNotice  = "I'm sorry, I encountered an error while processing your request."
	replyMissingModel = "Chat replies are not available: no Gemini API key is configured on this server."
)

// ChatRepository is the persistence the chat service needs.
type ChatRepository interface {
	store.UserStore
	store.ChatStore
}

type ChatService struct {
	store     ChatRepository
	responder Responder
	logger    *slog.Logger

	titles sync.WaitGroup
}

// NewChatService creates a ChatService. A nil responder stores a fixed notice
// as every model reply.
func NewChatService(st ChatRepository, responder Responder, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{store: st, responder: responder, logger: logger}
}

// Wait blocks until background title generation has finished.
func (s *ChatService) Wait() {
	s.titles.Wait()
}

func (s *ChatService) GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error) {
	return s.store.GetUserByExternalID(ctx, externalUserID)
}

// RegisterUser creates a password user; ErrUserExists when the id is taken.
func (s *ChatService) RegisterUser(ctx context.Context, externalUserID, email, passwordHash string) (*store.User, error) {
	existing, err := s.store.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}
	return s.store.CreateUser(ctx, externalUserID, email, passwordHash)
}

// GetOrCreateUser returns the user, creating a passwordless one for OAuth logins.
func (s *ChatService) GetOrCreateUser(ctx context.Context, externalUserID, email string) (*store.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user != nil {
		return user, nil
	}
	return s.store.CreateUser(ctx, externalUserID, email, "")
}

func (s *ChatService) CreateChat(ctx context.Context, userID int64, firstMessageContent *string) (*store.Chat, []store.Message, error) {
	chat, err := s.store.CreateChat(ctx, userID, nil) // Title is generated later
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}

	messages := []store.Message{}
	if firstMessageContent == nil || *firstMessageContent == "" {
		return chat, messages, nil
	}

	userMsg := store.Message{ChatID: chat.ID, Sender: senderUser, Content: *firstMessageContent}
	if err := s.store.CreateMessage(ctx, &userMsg); err != nil {
		s.logger.Warn("failed to store first user message", "chat_id", chat.ID, "error", err)
		return chat, messages, nil
	}
	messages = append(messages, userMsg)

	modelMsg := store.Message{ChatID: chat.ID, Sender: senderModel, Content: s.reply(ctx, chat.ID)}
	if err := s.store.CreateMessage(ctx, &modelMsg); err != nil {
		s.logger.Warn("failed to store initial model message", "chat_id", chat.ID, "error", err)
	} else {
		messages = append(messages, modelMsg)
	}

	s.generateTitleAsync(chat.ID, userID, userMsg.Content)
	return chat, messages, nil
}

func (s *ChatService) GetChats(ctx context.Context, userID int64) ([]store.Chat, error) {
	return s.store.GetChatsByUserID(ctx, userID)
}

func (s *ChatService) GetChatDetails(ctx context.Context, chatID string, userID int64) (*store.Chat, []store.Message, error) {
	chat, err := s.store.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if chat == nil {
		return nil, nil, ErrChatNotFound
	}

	messages, err := s.store.GetMessagesByChatID(ctx, chatID, chatDetailsLimit, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return chat, messages, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	err := s.store.DeleteChat(ctx, chatID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// PostMessage stores the user's message and the model's reply, and returns the reply.
func (s *ChatService) PostMessage(ctx context.Context, chatID string, userID int64, userContent string) (*store.Message, error) {
	chat, err := s.store.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	userMsg := store.Message{ChatID: chatID, Sender: senderUser, Content: userContent}
	if err := s.store.CreateMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	modelMessage := store.Message{ChatID: chatID, Sender: senderModel, Content: s.reply(ctx, chatID)}
	if err := s.store.CreateMessage(ctx, &modelMessage); err != nil {
		return nil, fmt.Errorf("failed to store model message: %w", err)
	}

	if chat.Title == nil || *chat.Title == "" {
		s.generateTitleAsync(chatID, userID, userContent)
	}
	return &modelMessage, nil
}

func (s *ChatService) SetMessageFeedback(ctx context.Context, messageID string, userID int64, negative bool) error {
	err := s.store.UpdateMessageFeedback(ctx, messageID, userID, negative)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// reply asks the responder about the recent history of chatID. Failures are
// turned into a canned notice so the exchange is still persisted.
func (s *ChatService) reply(ctx context.Context, chatID string) string {
	if s.responder == nil {
		return replyMissingModel
	}
	history, err := s.store.GetLastNMessagesByChatID(ctx, chatID, historyWindow)
	if err != nil {
		s.logger.Error("failed to load chat history", "chat_id", chatID, "error", err)
		return replyErrorNotice
	}
	content, err := s.responder.Reply(ctx, history)
	if err != nil {
		s.logger.Error("failed to generate model response", "chat_id", chatID, "error", err)
		return replyErrorNotice
	}
	return content
}

func (s *ChatService) generateTitleAsync(chatID string, userID int64, basis string) {
	if s.responder == nil {
		return
	}
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		s.generateAndSaveChatTitle(ctx, chatID, userID, basis)
	}()
}

func (s *ChatService) generateAndSaveChatTitle(ctx context.Context, chatID string, userID int64, basis string) {
	log := s.logger.With("chat_id", chatID)
	title, err := s.responder.Title(ctx, basis)
	if err != nil {
		log.Warn("failed to generate chat title", "error", err)
		return
	}
	title = CleanTitle(title)
	if title == "" {
		return
	}
	if err := s.store.UpdateChatTitle(ctx, chatID, userID, title); err != nil {
		log.Warn("failed to save generated title", "title", title, "error", err)
		return
	}
	log.Info("chat title generated", "title", title)
}
