package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXPool is the subset of *pgxpool.Pool used by PGStore.
type PGXPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGStore persists users, chats and interaction logs to PostgreSQL.
// The schema is owned by the embedded migrations (cmd/migrate).
type PGStore struct {
	db PGXPool
}

var _ Store = (*PGStore)(nil)

// NewPGStore connects a pool and verifies the server is reachable.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPGStoreWithPool(pool), nil
}

// NewPGStoreWithPool wraps an existing pool.
func NewPGStoreWithPool(db PGXPool) *PGStore {
	if db == nil {
		panic("store: pgx pool cannot be nil")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PGStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow(ctx, `
		SELECT id, external_user_id, email, password_hash, created_at
		FROM users WHERE external_user_id = $1
	`, externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *PGStore) CreateUser(ctx context.Context, externalUserID, email, passwordHash string) (*User, error) {
	user := User{ExternalUserID: externalUserID, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (external_user_id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, externalUserID, email, passwordHash, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

func (s *PGStore) CreateChat(ctx context.Context, userID int64, title *string) (*Chat, error) {
	chat := Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: time.Now().UTC()}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO chats (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)
	`, chat.ID, userID, title, chat.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return &chat, nil
}

func (s *PGStore) GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error) {
	var (
		chat  Chat
		title pgtype.Text
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, created_at FROM chats WHERE id = $1 AND user_id = $2
	`, chatID, userID).Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if title.Valid {
		chat.Title = &title.String
	}
	return &chat, nil
}

func (s *PGStore) GetChatsByUserID(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, created_at FROM chats WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var (
			chat  Chat
			title pgtype.Text
		)
		if err := rows.Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if title.Valid {
			chat.Title = &title.String
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *PGStore) UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) error {
	tag, err := s.db.Exec(ctx, `UPDATE chats SET title = $1 WHERE id = $2 AND user_id = $3`, title, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to update chat title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin chat delete: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE chat_id IN (SELECT id FROM chats WHERE id = $1 AND user_id = $2)`, chatID, userID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	if _, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender, content, timestamp, negative_feedback)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ChatID, msg.Sender, msg.Content, msg.Timestamp, msg.NegativeFeedback); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PGStore) GetMessagesByChatID(ctx context.Context, chatID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, sender, content, timestamp, negative_feedback
		FROM messages WHERE chat_id = $1
		ORDER BY timestamp ASC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PGStore) GetLastNMessagesByChatID(ctx context.Context, chatID string, n int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chat_id, sender, content, timestamp, negative_feedback FROM (
			SELECT id, chat_id, sender, content, timestamp, negative_feedback
			FROM messages WHERE chat_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) recent ORDER BY timestamp ASC
	`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PGStore) UpdateMessageFeedback(ctx context.Context, messageID string, userID int64, negative bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET negative_feedback = $1
		WHERE id = $2 AND chat_id IN (SELECT id FROM chats WHERE user_id = $3)
	`, negative, messageID, userID)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AppendInteraction(ctx context.Context, log *InteractionLog) error {
	metadata, err := encodeMetadata(log.Metadata)
	if err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	var mediaRef *string
	if log.MediaReference != "" {
		mediaRef = &log.MediaReference
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO interaction_logs (session_id, interaction_type, timestamp, sequence_number, metadata, media_reference, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		RETURNING id
	`, log.SessionID, string(log.InteractionType), log.Timestamp.UTC(), log.SequenceNumber, metadata, mediaRef, log.CreatedAt).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to insert interaction log: %w", err)
	}
	return nil
}

func (s *PGStore) ListSessionInteractions(ctx context.Context, sessionID string) ([]InteractionLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, interaction_type, timestamp, sequence_number, metadata::text, media_reference, created_at
		FROM interaction_logs
		WHERE session_id = $1
		ORDER BY timestamp ASC, sequence_number ASC NULLS LAST, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction logs: %w", err)
	}
	defer rows.Close()

	logs := []InteractionLog{}
	for rows.Next() {
		var (
			entry    InteractionLog
			kind     string
			seq      pgtype.Int8
			metadata string
			mediaRef pgtype.Text
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &kind, &entry.Timestamp, &seq, &metadata, &mediaRef, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction log row: %w", err)
		}
		entry.InteractionType = InteractionType(kind)
		if seq.Valid {
			v := seq.Int64
			entry.SequenceNumber = &v
		}
		entry.Metadata = decodeMetadata(metadata)
		if mediaRef.Valid {
			entry.MediaReference = mediaRef.String
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction logs: %w", err)
	}
	SortInteractions(logs)
	return logs, nil
}

func (s *PGStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM interaction_logs
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var summary SessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.LogCount, &summary.FirstSeen, &summary.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, summary)
	}
	return sessions, rows.Err()
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Content, &msg.Timestamp, &msg.NegativeFeedback); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
