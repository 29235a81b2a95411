package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLiteStoreWithDB(db)
}

// NewSQLiteStoreWithDB wraps an existing handle and ensures the schema exists.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        email TEXT NOT NULL DEFAULT '',
        password_hash TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        negative_feedback BOOLEAN DEFAULT FALSE,
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS interaction_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        interaction_type TEXT NOT NULL CHECK (interaction_type IN ('user_action', 'audio_chunk', 'video_frame', 'api_response', 'text_input')),
        timestamp DATETIME NOT NULL,
        sequence_number INTEGER,
        metadata_json TEXT NOT NULL DEFAULT '{}',
        media_reference TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_interaction_logs_session ON interaction_logs (session_id, timestamp);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, email, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (external_user_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)", externalUserID, email, passwordHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &User{ID: id, ExternalUserID: externalUserID, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64, title *string) (*Chat, error) {
	chatID := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, "INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)", chatID, userID, title, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return &Chat{ID: chatID, UserID: userID, Title: title, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error) {
	var chat Chat
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, title, created_at FROM chats WHERE id = ? AND user_id = ?", chatID, userID).
		Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if title.Valid {
		chat.Title = &title.String
	}
	return &chat, nil
}

func (s *SQLiteStore) GetChatsByUserID(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		var title sql.NullString
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

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET title = ? WHERE id = ? AND user_id = ?", title, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute chat title update: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chat delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return tx.Commit()
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, "INSERT INTO messages (id, chat_id, sender, content, timestamp, negative_feedback) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.Sender, msg.Content, msg.Timestamp, msg.NegativeFeedback)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string, limit int, offset int) ([]Message, error) {
	query := "SELECT id, chat_id, sender, content, timestamp, negative_feedback FROM messages WHERE chat_id = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) GetLastNMessagesByChatID(ctx context.Context, chatID string, n int) ([]Message, error) {
	query := `
        SELECT id, chat_id, sender, content, timestamp, negative_feedback FROM (
            SELECT id, chat_id, sender, content, timestamp, negative_feedback
            FROM messages
            WHERE chat_id = ?
            ORDER BY timestamp DESC
            LIMIT ?
        ) ORDER BY timestamp ASC
    `
	rows, err := s.db.QueryContext(ctx, query, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) UpdateMessageFeedback(ctx context.Context, messageID string, userID int64, negativeFeedback bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE messages SET negative_feedback = ?
        WHERE id = ? AND chat_id IN (SELECT id FROM chats WHERE user_id = ?)
    `, negativeFeedback, messageID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute feedback update: %w", err)
	}
	return requireAffected(res)
}

// Interaction log methods
func (s *SQLiteStore) AppendInteraction(ctx context.Context, log *InteractionLog) error {
	metadata, err := encodeMetadata(log.Metadata)
	if err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	var mediaRef sql.NullString
	if log.MediaReference != "" {
		mediaRef = sql.NullString{String: log.MediaReference, Valid: true}
	}
	var seq sql.NullInt64
	if log.SequenceNumber != nil {
		seq = sql.NullInt64{Int64: *log.SequenceNumber, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO interaction_logs (session_id, interaction_type, timestamp, sequence_number, metadata_json, media_reference, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, log.SessionID, string(log.InteractionType), log.Timestamp.UTC(), seq, metadata, mediaRef, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert interaction log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read interaction log id: %w", err)
	}
	log.ID = id
	return nil
}

func (s *SQLiteStore) ListSessionInteractions(ctx context.Context, sessionID string) ([]InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, interaction_type, timestamp, sequence_number, metadata_json, media_reference, created_at
        FROM interaction_logs
        WHERE session_id = ?
        ORDER BY timestamp ASC, sequence_number IS NULL, sequence_number ASC, id ASC
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
			seq      sql.NullInt64
			metadata sql.NullString
			mediaRef sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &kind, &entry.Timestamp, &seq, &metadata, &mediaRef, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction log row: %w", err)
		}
		entry.InteractionType = InteractionType(kind)
		if seq.Valid {
			v := seq.Int64
			entry.SequenceNumber = &v
		}
		entry.Metadata = decodeMetadata(metadata.String)
		entry.MediaReference = mediaRef.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction logs: %w", err)
	}
	SortInteractions(logs)
	return logs, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
        FROM interaction_logs
        GROUP BY session_id
        ORDER BY MAX(timestamp) DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var (
			summary     SessionSummary
			first, last sql.NullString
		)
		// Aggregates lose the DATETIME column type, so they come back as text.
		if err := rows.Scan(&summary.SessionID, &summary.LogCount, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.FirstSeen = ParseTimestamp(first.String)
		summary.LastSeen = ParseTimestamp(last.String)
		sessions = append(sessions, summary)
	}
	return sessions, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
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

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
