package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gwi.com/live-replay/internal/media"
	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/store"
)

var tracer = otel.Tracer("gwi.com/live-replay/internal/replay")

const (
	userAudioSampleRate  = 16000
	modelAudioSampleRate = 24000
	DefaultFrameRate     = 10
)

// ChunkFetcher downloads the bytes behind a media reference.
type ChunkFetcher interface {
	Fetch(ctx context.Context, ref string, kind MediaKind) ([]byte, error)
}

// SegmentPublisher uploads a rendered file.
type SegmentPublisher interface {
	Publish(ctx context.Context, localPath, sessionID string, segmentID int, kind MediaKind) (Published, error)
}

// SegmentMedia lists the proxy URLs produced for one segment. The signed URLs
// are set only for files the bucket refused to make public.
type SegmentMedia struct {
	SegmentID      int    `json:"segment_id"`
	AudioURL       string `json:"audio_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	AudioSignedURL string `json:"audio_signed_url,omitempty"`
	VideoSignedURL string `json:"video_signed_url,omitempty"`
}

type StitcherConfig struct {
	FrameRate int
	// TempDir is the parent of per-run working directories; empty uses os.TempDir.
	TempDir string
}

// Stitcher renders segments into audio and video files.
type Stitcher struct {
	fetcher   ChunkFetcher
	encoder   media.Encoder
	publisher SegmentPublisher
	cfg       StitcherConfig
	metrics   *metrics.ReplayMetrics
	logger    *slog.Logger
}

func NewStitcher(fetcher ChunkFetcher, encoder media.Encoder, publisher SegmentPublisher, cfg StitcherConfig, m *metrics.ReplayMetrics, logger *slog.Logger) *Stitcher {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stitcher{fetcher: fetcher, encoder: encoder, publisher: publisher, cfg: cfg, metrics: m, logger: logger}
}

// InferSampleRate picks the input rate of a raw PCM chunk: the recorded rate,
// else 16 kHz for microphone audio, else the 24 kHz model default.
func InferSampleRate(entry store.InteractionLog) int {
	md := entry.Metadata
	if md.AudioSampleRate != nil && *md.AudioSampleRate > 0 {
		return *md.AudioSampleRate
	}
	if md.MicrophoneOn != nil && *md.MicrophoneOn {
		return userAudioSampleRate
	}
	return modelAudioSampleRate
}

// CreateSegmentAudio downloads the segment's audio chunks into workDir and
// renders them to one WAV file. It returns "" with a nil error when no chunk
// could be downloaded; an error means the encoder failed.
func (s *Stitcher) CreateSegmentAudio(ctx context.Context, workDir string, seg Segment) (string, error) {
	log := s.logger.With("segment_id", seg.ID, "kind", MediaAudio)
	dir := filepath.Join(workDir, fmt.Sprintf("segment_%d", seg.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}

	var inputs []media.RawAudioInput
	for i, chunk := range seg.AudioChunks {
		if !chunk.HasMedia() {
			log.Debug("audio chunk has no media reference", "log_id", chunk.ID)
			continue
		}
		data, err := s.fetcher.Fetch(ctx, chunk.MediaReference, MediaAudio)
		if err != nil {
			log.Warn("dropping audio chunk", "log_id", chunk.ID, "error", err)
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("audio_%04d.pcm", i))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			log.Warn("dropping audio chunk", "log_id", chunk.ID, "error", err)
			continue
		}
		inputs = append(inputs, media.RawAudioInput{Path: path, SampleRate: InferSampleRate(chunk)})
	}
	if len(inputs) == 0 {
		return "", nil
	}

	output := filepath.Join(dir, fmt.Sprintf("segment_%d_audio.wav", seg.ID))
	args, err := media.AudioArgs(inputs, output)
	if err != nil {
		return "", err
	}
	if err := s.encode(ctx, MediaAudio, args, output); err != nil {
		return "", err
	}
	log.Info("segment audio rendered", "chunks", len(inputs), "dropped", len(seg.AudioChunks)-len(inputs))
	return output, nil
}

// CreateSegmentVideo downloads the segment's frames and encodes them as MP4.
// Frames are numbered by successful write so the sequence has no holes, and
// a segment mixing image formats is normalized to JPEG.
func (s *Stitcher) CreateSegmentVideo(ctx context.Context, workDir string, seg Segment) (string, error) {
	log := s.logger.With("segment_id", seg.ID, "kind", MediaVideo)
	dir := filepath.Join(workDir, fmt.Sprintf("segment_%d", seg.ID), "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create frame dir: %w", err)
	}

	var frames []capturedFrame
	for _, frame := range seg.VideoFrames {
		if !frame.HasMedia() {
			continue
		}
		data, err := s.fetcher.Fetch(ctx, frame.MediaReference, MediaVideo)
		if err != nil {
			log.Warn("dropping video frame", "log_id", frame.ID, "error", err)
			continue
		}
		frames = append(frames, capturedFrame{logID: frame.ID, data: data, format: frameFormat(data, frame.Metadata.MimeType)})
	}

	ext := sequenceFormat(frames)
	written := 0
	for _, frame := range frames {
		data := frame.data
		if frame.format != ext {
			converted, err := toJPEG(data)
			if err != nil {
				log.Warn("dropping video frame", "log_id", frame.logID, "format", frame.format, "error", err)
				continue
			}
			data = converted
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%05d.%s", written, ext))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			log.Warn("dropping video frame", "log_id", frame.logID, "error", err)
			continue
		}
		written++
	}
	if written == 0 {
		return "", nil
	}

	output := filepath.Join(workDir, fmt.Sprintf("segment_%d", seg.ID), fmt.Sprintf("segment_%d_video.mp4", seg.ID))
	args, err := media.VideoArgs(filepath.Join(dir, "frame_%05d."+ext), s.cfg.FrameRate, output)
	if err != nil {
		return "", err
	}
	if err := s.encode(ctx, MediaVideo, args, output); err != nil {
		return "", err
	}
	log.Info("segment video rendered", "frames", written, "dropped", len(seg.VideoFrames)-written)
	return output, nil
}

func (s *Stitcher) encode(ctx context.Context, kind MediaKind, args []string, output string) error {
	err := s.encoder.Run(ctx, args...)
	if err == nil {
		if _, statErr := os.Stat(output); statErr != nil {
			err = fmt.Errorf("encoder produced no output: %w", statErr)
		}
	}
	s.metrics.ObserveEncode(string(kind), err == nil)
	return err
}

// CreateSessionVideo renders and publishes every segment in order. Failures
// drop only the affected media kind of one segment; segments that yield
// nothing are left out of the result.
func (s *Stitcher) CreateSessionVideo(ctx context.Context, sessionID string, segments []Segment) (map[int]SegmentMedia, error) {
	ctx, span := tracer.Start(ctx, "replay.CreateSessionVideo")
	defer span.End()
	span.SetAttributes(attribute.String("replay.session_id", sessionID), attribute.Int("replay.segments", len(segments)))

	workDir, err := os.MkdirTemp(s.cfg.TempDir, "replay-"+sanitize(sessionID)+"-")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "temp dir")
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			s.logger.Warn("failed to remove work dir", "dir", workDir, "error", rmErr)
		}
	}()

	results := make(map[int]SegmentMedia)
	for _, seg := range segments {
		if out, ok := s.stitchSegment(ctx, workDir, sessionID, seg); ok {
			results[seg.ID] = out
		}
	}
	span.SetAttributes(attribute.Int("replay.segments_published", len(results)))
	return results, nil
}

func (s *Stitcher) stitchSegment(ctx context.Context, workDir, sessionID string, seg Segment) (SegmentMedia, bool) {
	ctx, span := tracer.Start(ctx, "replay.stitchSegment")
	defer span.End()
	span.SetAttributes(attribute.Int("replay.segment_id", seg.ID), attribute.String("replay.segment_type", string(seg.Type)))

	log := s.logger.With("session_id", sessionID, "segment_id", seg.ID)
	out := SegmentMedia{SegmentID: seg.ID}

	if len(seg.AudioChunks) > 0 {
		if published, ok := s.renderAndPublish(ctx, workDir, sessionID, seg, MediaAudio, log); ok {
			out.AudioURL, out.AudioSignedURL = published.ProxyURL, published.SignedURL
		}
	}
	if len(seg.VideoFrames) > 0 {
		if published, ok := s.renderAndPublish(ctx, workDir, sessionID, seg, MediaVideo, log); ok {
			out.VideoURL, out.VideoSignedURL = published.ProxyURL, published.SignedURL
		}
	}
	return out, out.AudioURL != "" || out.VideoURL != ""
}

func (s *Stitcher) renderAndPublish(ctx context.Context, workDir, sessionID string, seg Segment, kind MediaKind, log *slog.Logger) (Published, bool) {
	var (
		path string
		err  error
	)
	if kind == MediaVideo {
		path, err = s.CreateSegmentVideo(ctx, workDir, seg)
	} else {
		path, err = s.CreateSegmentAudio(ctx, workDir, seg)
	}
	if err != nil {
		log.Warn("segment media dropped", "kind", kind, "error", err)
		return Published{}, false
	}
	if path == "" {
		log.Info("no downloadable chunks for segment", "kind", kind)
		return Published{}, false
	}

	pubCtx, span := tracer.Start(ctx, "replay.publish")
	defer span.End()
	span.SetAttributes(attribute.String("replay.kind", string(kind)))
	published, err := s.publisher.Publish(pubCtx, path, sessionID, seg.ID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		log.Warn("segment upload failed", "kind", kind, "error", err)
		return Published{}, false
	}
	span.SetAttributes(attribute.Bool("replay.public", published.Public))
	log.Info("segment published", "kind", kind, "key", published.Key, "public", published.Public, "signed", published.SignedURL != "")
	return published, true
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
