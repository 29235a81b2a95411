package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

type UserStore interface {
	// GetUserByExternalID returns nil, nil when the user does not exist.
	GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error)
	CreateUser(ctx context.Context, externalUserID, email, passwordHash string) (*User, error)
}

type ChatStore interface {
	CreateChat(ctx context.Context, userID int64, title *string) (*Chat, error)
	// GetChatByID returns nil, nil when the chat does not exist or belongs to someone else.
	GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error)
	GetChatsByUserID(ctx context.Context, userID int64) ([]Chat, error)
	UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) error
	DeleteChat(ctx context.Context, chatID string, userID int64) error
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessagesByChatID(ctx context.Context, chatID string, limit, offset int) ([]Message, error)
	// GetLastNMessagesByChatID returns the newest n messages in chronological order.
	GetLastNMessagesByChatID(ctx context.Context, chatID string, n int) ([]Message, error)
	UpdateMessageFeedback(ctx context.Context, messageID string, userID int64, negative bool) error
}

type InteractionStore interface {
	AppendInteraction(ctx context.Context, log *InteractionLog) error
	// ListSessionInteractions returns a session's logs ordered by
	// (timestamp, sequence_number, id).
	ListSessionInteractions(ctx context.Context, sessionID string) ([]InteractionLog, error)
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	UserStore
	ChatStore
	InteractionStore
	Close() error
}

// SortInteractions orders logs by timestamp, then sequence number (unset
// sequence numbers last), then id. The sort is stable and deterministic.
func SortInteractions(logs []InteractionLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		return InteractionLess(logs[i], logs[j])
	})
}

// InteractionLess is the canonical ordering between two logs of a session.
func InteractionLess(a, b InteractionLog) bool {
	ta, tb := TimestampMillis(a.Timestamp), TimestampMillis(b.Timestamp)
	if ta != tb {
		return ta < tb
	}
	switch {
	case a.SequenceNumber != nil && b.SequenceNumber != nil:
		if *a.SequenceNumber != *b.SequenceNumber {
			return *a.SequenceNumber < *b.SequenceNumber
		}
	case a.SequenceNumber != nil:
		return true
	case b.SequenceNumber != nil:
		return false
	}
	return a.ID < b.ID
}

func encodeMetadata(md InteractionMetadata) (string, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal interaction metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) InteractionMetadata {
	var md InteractionMetadata
	if raw == "" {
		return md
	}
	// Unreadable metadata degrades to an empty record rather than failing the read.
	_ = json.Unmarshal([]byte(raw), &md)
	return md
}
