package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"gwi.com/live-replay/internal/core"
	"gwi.com/live-replay/internal/storage"
)

const maxUploadBytes = 32 << 20

// ObjectUploader stores user uploads and signs links to them.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (h *APIHandler) RecordInteractionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)

	var ev core.CaptureEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := h.interactionService.Record(r.Context(), sessionID, ev)
	if err != nil {
		h.writeServiceError(w, err, "Failed to record interaction", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *APIHandler) ListInteractionsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	resolve, _ := strconv.ParseBool(r.URL.Query().Get("resolve"))

	logs, err := h.interactionService.List(r.Context(), sessionID, resolve)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list interactions", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.interactionService.ListSessions(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type UploadResponse struct {
	Object string `json:"object"`
	URL    string `json:"url"`
}

func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		http.Error(w, "Media storage is not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	owner := strings.TrimSpace(r.FormValue("session_id"))
	if owner == "" {
		owner = externalUserIDFromContext(r.Context())
	}
	key := fmt.Sprintf("uploads/%s/%s_%s", owner, uuid.NewString(), path.Base(header.Filename))

	if err := h.uploads.Upload(r.Context(), key, file, header.Header.Get("Content-Type")); err != nil {
		h.writeServiceError(w, err, "Failed to upload file", "object", key)
		return
	}
	signed, err := h.uploads.PresignGet(r.Context(), key, h.signedURLTTL)
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		h.logger.Warn("uploaded file could not be signed", "object", key, "error", err)
	}
	writeJSON(w, http.StatusCreated, UploadResponse{Object: key, URL: signed})
}

type captureFrame struct {
	Type string `json:"type"`
	core.CaptureEvent
}

type captureReply struct {
	Type           string `json:"type"`
	ID             int64  `json:"id,omitempty"`
	SequenceNumber *int64 `json:"sequence_number,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CaptureHandler records interactions streamed over a websocket. Each
// {"type":"interaction"} frame is acknowledged with its log id.
func (h *APIHandler) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveCapture(r.Context(), conn, sessionID)
	}).ServeHTTP(w, r)
}

func (h *APIHandler) serveCapture(ctx context.Context, conn *websocket.Conn, sessionID string) {
	log := h.logger.With("session_id", sessionID)
	log.Info("capture connection opened")
	recorded := 0
	defer func() { log.Info("capture connection closed", "recorded", recorded) }()

	for {
		var frame captureFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if err != io.EOF {
				log.Debug("capture receive failed", "error", err)
			}
			return
		}

		var reply captureReply
		switch frame.Type {
		case "ping":
			reply = captureReply{Type: "pong"}
		case "interaction":
			entry, err := h.interactionService.Record(ctx, sessionID, frame.CaptureEvent)
			if err != nil {
				log.Warn("capture frame rejected", "error", err)
				reply = captureReply{Type: "error", SequenceNumber: frame.SequenceNumber, Error: err.Error()}
				break
			}
			recorded++
			reply = captureReply{Type: "ack", ID: entry.ID, SequenceNumber: entry.SequenceNumber}
		default:
			reply = captureReply{Type: "error", Error: fmt.Sprintf("unknown frame type %q", frame.Type)}
		}
		if err := websocket.JSON.Send(conn, reply); err != nil {
			log.Debug("capture send failed", "error", err)
			return
		}
	}
}
