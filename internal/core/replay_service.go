package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/replay"
	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/store"
)

// SessionStitcher renders and publishes segments.
type SessionStitcher interface {
	CreateSessionVideo(ctx context.Context, sessionID string, segments []replay.Segment) (map[int]replay.SegmentMedia, error)
}

// SegmentObjects reads published segment files back.
type SegmentObjects interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Newest(ctx context.Context, prefix string) (storage.ObjectInfo, error)
	Open(ctx context.Context, key string) (*storage.Object, error)
}

// SessionVideo is the result of one create-session-video run.
type SessionVideo struct {
	SessionID    string                      `json:"session_id"`
	Segments     map[int]replay.SegmentMedia `json:"segments"`
	SegmentCount int                         `json:"segment_count"`
}

// SegmentFile is one published rendering of a segment.
type SegmentFile struct {
	SegmentID    int              `json:"segment_id"`
	Kind         replay.MediaKind `json:"kind"`
	Key          string           `json:"key"`
	Size         int64            `json:"size"`
	LastModified time.Time        `json:"last_modified"`
	ProxyURL     string           `json:"proxy_url"`
}

type SegmentInfo struct {
	SessionID string        `json:"session_id"`
	Audio     []SegmentFile `json:"audio"`
	Video     []SegmentFile `json:"video"`
}

type ReplayService struct {
	logs      store.InteractionStore
	statuses  store.VideoStatusStore
	segmenter *replay.Segmenter
	stitcher  SessionStitcher
	objects   SegmentObjects
	baseURL   string
	metrics   *metrics.ReplayMetrics
	logger    *slog.Logger
	now       func() time.Time
}

type ReplayServiceConfig struct {
	GapThreshold time.Duration
	// PublicBaseURL prefixes proxy URLs listed by SegmentInfo.
	PublicBaseURL string
}

func NewReplayService(
	logs store.InteractionStore,
	statuses store.VideoStatusStore,
	stitcher SessionStitcher,
	objects SegmentObjects,
	cfg ReplayServiceConfig,
	m *metrics.ReplayMetrics,
	logger *slog.Logger,
) *ReplayService {
	if logger == nil {
		logger = slog.Default()
	}
	if statuses == nil {
		statuses = store.NewMemoryVideoStatusStore()
	}
	return &ReplayService{
		logs:      logs,
		statuses:  statuses,
		segmenter: replay.NewSegmenter(cfg.GapThreshold),
		stitcher:  stitcher,
		objects:   objects,
		baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *ReplayService) sessionLogs(ctx context.Context, sessionID string) ([]store.InteractionLog, error) {
	logs, err := s.logs.ListSessionInteractions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, ErrNoLogs
	}
	return logs, nil
}

// Segments returns the conversation timeline of a session without touching media.
func (s *ReplayService) Segments(ctx context.Context, sessionID string) ([]replay.Segment, error) {
	logs, err := s.sessionLogs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.segmenter.Group(logs), nil
}

func (s *ReplayService) Analyze(ctx context.Context, sessionID string) (replay.QualityReport, error) {
	logs, err := s.sessionLogs(ctx, sessionID)
	if err != nil {
		return replay.QualityReport{}, err
	}
	return replay.Analyze(sessionID, logs), nil
}

// CreateSessionVideo segments the session, renders and publishes every
// media-bearing segment (or only those in onlySegments) and records the run's
// status. Rendering continues if the caller goes away.
func (s *ReplayService) CreateSessionVideo(ctx context.Context, sessionID string, onlySegments []int) (*SessionVideo, error) {
	logs, err := s.sessionLogs(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	segments := filterSegments(s.segmenter.Group(logs), onlySegments)
	if len(segments) == 0 {
		return nil, ErrNothingToCreate
	}
	for _, seg := range segments {
		s.metrics.ObserveSegment(string(seg.Type))
	}

	log := s.logger.With("session_id", sessionID)
	started := s.now().UTC()
	s.saveStatus(ctx, &store.VideoStatus{
		SessionID:    sessionID,
		Status:       store.VideoStatusProcessing,
		SegmentCount: len(segments),
		StartedAt:    started,
	})
	log.Info("session video started", "segments", len(segments), "logs", len(logs))

	workCtx := context.WithoutCancel(ctx)
	results, err := s.stitcher.CreateSessionVideo(workCtx, sessionID, segments)
	if err == nil && len(results) == 0 {
		err = ErrNothingToCreate
	}

	finished := s.now().UTC()
	elapsed := finished.Sub(started).Seconds()
	if err != nil {
		s.metrics.ObservePipeline("failed", elapsed)
		s.saveStatus(workCtx, &store.VideoStatus{
			SessionID:    sessionID,
			Status:       store.VideoStatusFailed,
			SegmentCount: len(segments),
			Error:        err.Error(),
			StartedAt:    started,
			FinishedAt:   &finished,
		})
		log.Warn("session video failed", "error", err)
		return nil, err
	}

	media := make(map[int]store.SegmentMediaURLs, len(results))
	for id, out := range results {
		media[id] = store.SegmentMediaURLs{
			AudioURL:       out.AudioURL,
			VideoURL:       out.VideoURL,
			AudioSignedURL: out.AudioSignedURL,
			VideoSignedURL: out.VideoSignedURL,
		}
	}
	s.metrics.ObservePipeline("completed", elapsed)
	s.saveStatus(workCtx, &store.VideoStatus{
		SessionID:    sessionID,
		Status:       store.VideoStatusCompleted,
		SegmentCount: len(results),
		SegmentMedia: media,
		StartedAt:    started,
		FinishedAt:   &finished,
	})
	log.Info("session video completed", "segments_published", len(results), "seconds", elapsed)

	return &SessionVideo{SessionID: sessionID, Segments: results, SegmentCount: len(results)}, nil
}

func (s *ReplayService) saveStatus(ctx context.Context, status *store.VideoStatus) {
	if err := s.statuses.SaveVideoStatus(ctx, status); err != nil {
		s.logger.Warn("failed to save video status", "session_id", status.SessionID, "status", status.Status, "error", err)
	}
}

func (s *ReplayService) VideoStatus(ctx context.Context, sessionID string) (*store.VideoStatus, error) {
	status, err := s.statuses.GetVideoStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrNoVideoStatus
	}
	return status, nil
}

// OpenSegmentMedia opens the newest published file of one segment's kind.
// The caller closes the body.
func (s *ReplayService) OpenSegmentMedia(ctx context.Context, sessionID string, segmentID int, kind replay.MediaKind) (*storage.Object, error) {
	if s.objects == nil {
		return nil, storage.ErrNotConfigured
	}
	info, err := s.objects.Newest(ctx, replay.SegmentObjectPrefix(sessionID, segmentID, kind))
	if err != nil {
		return nil, err
	}
	obj, err := s.objects.Open(ctx, info.Key)
	if err != nil {
		return nil, err
	}
	if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		obj.ContentType = replay.ContentTypeFor(kind)
	}
	return obj, nil
}

// SegmentInfo lists every published segment file of a session, oldest first.
func (s *ReplayService) SegmentInfo(ctx context.Context, sessionID string) (SegmentInfo, error) {
	info := SegmentInfo{SessionID: sessionID, Audio: []SegmentFile{}, Video: []SegmentFile{}}
	if s.objects == nil {
		return info, storage.ErrNotConfigured
	}
	for _, kind := range []replay.MediaKind{replay.MediaAudio, replay.MediaVideo} {
		prefix := replay.SegmentKindPrefix(sessionID, kind)
		objects, err := s.objects.List(ctx, prefix)
		if err != nil {
			return info, err
		}
		files := make([]SegmentFile, 0, len(objects))
		for _, obj := range objects {
			id, ok := segmentIDFromKey(strings.TrimPrefix(obj.Key, prefix))
			if !ok {
				continue
			}
			files = append(files, SegmentFile{
				SegmentID:    id,
				Kind:         kind,
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ProxyURL:     s.baseURL + replay.SegmentProxyPath(sessionID, id, kind),
			})
		}
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].SegmentID != files[j].SegmentID {
				return files[i].SegmentID < files[j].SegmentID
			}
			return files[i].LastModified.Before(files[j].LastModified)
		})
		if kind == replay.MediaAudio {
			info.Audio = files
		} else {
			info.Video = files
		}
	}
	return info, nil
}

// segmentIDFromKey reads the id out of "{id}_{kind}_{unix}.{ext}".
func segmentIDFromKey(name string) (int, bool) {
	head, _, found := strings.Cut(name, "_")
	if !found {
		return 0, false
	}
	id, err := strconv.Atoi(head)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func filterSegments(segments []replay.Segment, only []int) []replay.Segment {
	if len(only) == 0 {
		return segments
	}
	keep := make(map[int]bool, len(only))
	for _, id := range only {
		keep[id] = true
	}
	out := make([]replay.Segment, 0, len(only))
	for _, seg := range segments {
		if keep[seg.ID] {
			out = append(out, seg)
		}
	}
	return out
}

// IsNotFound reports whether err means the requested record or object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoLogs) ||
		errors.Is(err, ErrNoVideoStatus) ||
		errors.Is(err, ErrChatNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, storage.ErrObjectNotFound) ||
		errors.Is(err, store.ErrNotFound)
}
