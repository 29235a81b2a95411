package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gwi.com/live-replay/internal/replay"
)

type CreateSessionVideoRequest struct {
	SessionID string `json:"session_id"`
	Segments  []int  `json:"segments,omitempty"`
}

func (h *APIHandler) CreateSessionVideoHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.replayService.CreateSessionVideo(r.Context(), req.SessionID, req.Segments)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create session video", "session_id", req.SessionID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) SessionVideoStatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	status, err := h.replayService.VideoStatus(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load video status", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) AnalyzeSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	report, err := h.replayService.Analyze(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to analyze session", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type SegmentsResponse struct {
	SessionID    string           `json:"session_id"`
	Segments     []replay.Segment `json:"segments"`
	SegmentCount int              `json:"segment_count"`
}

func (h *APIHandler) SessionSegmentsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	segments, err := h.replayService.Segments(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to segment session", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{SessionID: sessionID, Segments: segments, SegmentCount: len(segments)})
}

// SegmentMediaHandler streams the newest rendering of a segment. It is public
// so <audio> and <video> elements can load it directly.
func (h *APIHandler) SegmentMediaHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	segmentID, err := strconv.Atoi(chi.URLParam(r, "segmentID"))
	if err != nil || segmentID <= 0 {
		http.Error(w, "Invalid segment id", http.StatusBadRequest)
		return
	}
	kind, ok := replay.ParseMediaKind(chi.URLParam(r, "kind"))
	if !ok {
		http.Error(w, "Media kind must be audio or video", http.StatusBadRequest)
		return
	}

	obj, err := h.replayService.OpenSegmentMedia(r.Context(), sessionID, segmentID, kind)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load segment media", "session_id", sessionID, "segment_id", segmentID)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("segment media stream interrupted", "session_id", sessionID, "segment_id", segmentID, "error", err)
	}
}

func (h *APIHandler) SegmentInfoHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	info, err := h.replayService.SegmentInfo(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list segment media", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
