package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	Email          string    `json:"email,omitempty"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

type Chat struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"user_id"`
	Title     *string   `json:"title"` // Nullable
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID               string    `json:"id"` // UUID
	ChatID           string    `json:"chat_id"`
	Sender           string    `json:"sender"` // "user" or "model"
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	NegativeFeedback bool      `json:"negative_feedback"`
}

// InteractionType names the kind of event captured during a live session.
type InteractionType string

const (
	InteractionUserAction  InteractionType = "user_action"
	InteractionAudioChunk  InteractionType = "audio_chunk"
	InteractionVideoFrame  InteractionType = "video_frame"
	InteractionAPIResponse InteractionType = "api_response"
	InteractionTextInput   InteractionType = "text_input"
)

// Valid reports whether t is one of the known interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionUserAction, InteractionAudioChunk, InteractionVideoFrame, InteractionAPIResponse, InteractionTextInput:
		return true
	}
	return false
}

// InteractionMetadata holds the optional attributes recorded with a log.
// Absent values stay nil/empty so classification can tell "false" from "unknown".
type InteractionMetadata struct {
	MicrophoneOn    *bool  `json:"microphone_on,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	ResponseType    string `json:"response_type,omitempty"`
	AudioSampleRate *int   `json:"audio_sample_rate,omitempty"`
	ActionType      string `json:"action_type,omitempty"`
	Text            string `json:"text,omitempty"`
}

// InteractionLog is one raw event captured during a live session.
type InteractionLog struct {
	ID              int64               `json:"id"`
	SessionID       string              `json:"session_id"`
	InteractionType InteractionType     `json:"interaction_type"`
	Timestamp       time.Time           `json:"timestamp"`
	SequenceNumber  *int64              `json:"sequence_number,omitempty"`
	Metadata        InteractionMetadata `json:"metadata"`
	MediaReference  string              `json:"media_reference,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// HasMedia reports whether the log points at externally stored bytes.
func (l InteractionLog) HasMedia() bool {
	return l.MediaReference != ""
}

// SessionSummary describes one live session by its captured logs.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	LogCount  int64     `json:"log_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
