package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/store"
)

const maxImportLineBytes = 16 << 20

// MediaStore is the object storage used for captured chunks.
type MediaStore interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Bucket() string
}

// CaptureEvent is one interaction as sent by the live client. Timestamp may be
// an ISO-8601 string or epoch milliseconds; MediaData is base64.
type CaptureEvent struct {
	SessionID       string                    `json:"session_id,omitempty"`
	InteractionType store.InteractionType     `json:"interaction_type"`
	Timestamp       json.RawMessage           `json:"timestamp,omitempty"`
	SequenceNumber  *int64                    `json:"sequence_number,omitempty"`
	Metadata        store.InteractionMetadata `json:"metadata"`
	MediaReference  string                    `json:"media_reference,omitempty"`
	MediaData       string                    `json:"media_data,omitempty"`
}

// ImportResult summarizes a JSONL import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Sessions []string `json:"sessions"`
}

type InteractionService struct {
	logs      store.InteractionStore
	media     MediaStore
	signedTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewInteractionService(logs store.InteractionStore, media MediaStore, signedTTL time.Duration, logger *slog.Logger) *InteractionService {
	if logger == nil {
		logger = slog.Default()
	}
	if signedTTL <= 0 {
		signedTTL = time.Hour
	}
	return &InteractionService{logs: logs, media: media, signedTTL: signedTTL, now: time.Now, logger: logger}
}

// Record validates ev, uploads inline media and appends the log to sessionID.
func (s *InteractionService) Record(ctx context.Context, sessionID string, ev CaptureEvent) (*store.InteractionLog, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInteraction)
	}
	if !ev.InteractionType.Valid() {
		return nil, fmt.Errorf("%w: unknown interaction type %q", ErrInvalidInteraction, ev.InteractionType)
	}

	entry := &store.InteractionLog{
		SessionID:       sessionID,
		InteractionType: ev.InteractionType,
		Timestamp:       s.captureTime(ev.Timestamp),
		SequenceNumber:  ev.SequenceNumber,
		Metadata:        ev.Metadata,
		MediaReference:  strings.TrimSpace(ev.MediaReference),
	}

	if ev.MediaData != "" {
		key, err := s.uploadInline(ctx, sessionID, ev)
		if err != nil {
			return nil, err
		}
		entry.MediaReference = key
	}

	if err := s.logs.AppendInteraction(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store interaction: %w", err)
	}
	return entry, nil
}

func (s *InteractionService) uploadInline(ctx context.Context, sessionID string, ev CaptureEvent) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ev.MediaData)
	if err != nil {
		return "", fmt.Errorf("%w: media_data is not base64: %v", ErrInvalidInteraction, err)
	}
	if s.media == nil {
		return "", storage.ErrNotConfigured
	}
	key := RawMediaKey(sessionID, ev.InteractionType, ev.Metadata.MimeType)
	if err := s.media.Upload(ctx, key, bytes.NewReader(data), ev.Metadata.MimeType); err != nil {
		return "", fmt.Errorf("failed to upload %s media: %w", ev.InteractionType, err)
	}
	return key, nil
}

// captureTime parses a timestamp. A missing one means "now"; an unreadable
// one is the zero time.
func (s *InteractionService) captureTime(raw json.RawMessage) time.Time {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return s.now().UTC()
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	return store.ParseTimestamp(text)
}

// RawMediaKey is the object key for an uploaded capture chunk.
func RawMediaKey(sessionID string, kind store.InteractionType, mimeType string) string {
	return fmt.Sprintf("%s/raw/%s/%s.%s", sessionID, kind, uuid.NewString(), extensionForMime(mimeType))
}

func extensionForMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/pcm", "audio/l16", "audio/raw":
		return "pcm"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	}
	return "bin"
}

// List returns the session's logs in replay order. With resolve, references
// into the media bucket are replaced by freshly signed URLs.
func (s *InteractionService) List(ctx context.Context, sessionID string, resolve bool) ([]store.InteractionLog, error) {
	logs, err := s.logs.ListSessionInteractions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	if !resolve || s.media == nil {
		return logs, nil
	}
	for i := range logs {
		ref := logs[i].MediaReference
		if ref == "" {
			continue
		}
		key, ok := storage.ObjectKeyFromRef(ref, s.media.Bucket())
		if !ok {
			if strings.Contains(ref, "://") {
				continue
			}
			key = strings.TrimPrefix(ref, "/")
		}
		signed, err := s.media.PresignGet(ctx, key, s.signedTTL)
		if err != nil {
			s.logger.Warn("failed to sign media reference", "session_id", sessionID, "log_id", logs[i].ID, "error", err)
			continue
		}
		logs[i].MediaReference = signed
	}
	return logs, nil
}

func (s *InteractionService) ListSessions(ctx context.Context, limit int) ([]store.SessionSummary, error) {
	return s.logs.ListSessions(ctx, limit)
}

// Import records one CaptureEvent per line of r. Blank lines are ignored;
// lines that fail to parse or record are skipped and counted.
func (s *InteractionService) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	result := ImportResult{Sessions: []string{}}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var ev CaptureEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn("skipping unreadable import line", "line", line, "error", err)
			result.Skipped++
			continue
		}
		if _, err := s.Record(ctx, ev.SessionID, ev); err != nil {
			s.logger.Warn("skipping import line", "line", line, "session_id", ev.SessionID, "error", err)
			result.Skipped++
			continue
		}
		result.Imported++
		if id := strings.TrimSpace(ev.SessionID); !seen[id] {
			seen[id] = true
			result.Sessions = append(result.Sessions, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read import: %w", err)
	}
	return result, nil
}
