package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	videoStatusKeyPrefix = "replay:video-status:"
	videoStatusTTL       = 24 * time.Hour
)

// VideoJobStatus tracks a create-session-video run.
type VideoJobStatus string

const (
	VideoStatusProcessing VideoJobStatus = "processing"
	VideoStatusCompleted  VideoJobStatus = "completed"
	VideoStatusFailed     VideoJobStatus = "failed"
)

// SegmentMediaURLs holds the proxy URLs published for one segment, plus
// direct signed URLs for files that could not be made public.
type SegmentMediaURLs struct {
	AudioURL       string `json:"audio_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	AudioSignedURL string `json:"audio_signed_url,omitempty"`
	VideoSignedURL string `json:"video_signed_url,omitempty"`
}

// VideoStatus is the latest create-session-video outcome for a session.
type VideoStatus struct {
	SessionID    string                   `json:"session_id"`
	Status       VideoJobStatus           `json:"status"`
	SegmentCount int                      `json:"segment_count"`
	SegmentMedia map[int]SegmentMediaURLs `json:"segment_media,omitempty"`
	Error        string                   `json:"error,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   *time.Time               `json:"finished_at,omitempty"`
}

type VideoStatusStore interface {
	SaveVideoStatus(ctx context.Context, status *VideoStatus) error
	// GetVideoStatus returns nil, nil when no run was recorded for the session.
	GetVideoStatus(ctx context.Context, sessionID string) (*VideoStatus, error)
}

// RedisVideoStatusStore keeps status records in Redis with a 24h TTL.
type RedisVideoStatusStore struct {
	rdb *redis.Client
}

func NewRedisVideoStatusStore(rdb *redis.Client) *RedisVideoStatusStore {
	return &RedisVideoStatusStore{rdb: rdb}
}

func videoStatusKey(sessionID string) string {
	return videoStatusKeyPrefix + sessionID
}

func (s *RedisVideoStatusStore) SaveVideoStatus(ctx context.Context, status *VideoStatus) error {
	if status == nil || status.SessionID == "" {
		return errors.New("video status: session_id required")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("video status: marshal: %w", err)
	}
	return s.rdb.Set(ctx, videoStatusKey(status.SessionID), data, videoStatusTTL).Err()
}

func (s *RedisVideoStatusStore) GetVideoStatus(ctx context.Context, sessionID string) (*VideoStatus, error) {
	data, err := s.rdb.Get(ctx, videoStatusKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("video status: get: %w", err)
	}
	var status VideoStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("video status: unmarshal: %w", err)
	}
	return &status, nil
}

// MemoryVideoStatusStore is the process-local fallback used when Redis is not configured.
type MemoryVideoStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]VideoStatus
}

func NewMemoryVideoStatusStore() *MemoryVideoStatusStore {
	return &MemoryVideoStatusStore{statuses: make(map[string]VideoStatus)}
}

func (s *MemoryVideoStatusStore) SaveVideoStatus(_ context.Context, status *VideoStatus) error {
	if status == nil || status.SessionID == "" {
		return errors.New("video status: session_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.SessionID] = *status
	return nil
}

func (s *MemoryVideoStatusStore) GetVideoStatus(_ context.Context, sessionID string) (*VideoStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[sessionID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}
