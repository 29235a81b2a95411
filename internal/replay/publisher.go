package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/storage"
)

// ObjectWriter is the slice of the object store the publisher needs.
type ObjectWriter interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	MakePublic(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Publisher uploads rendered segment files and hands back same-origin proxy URLs.
type Publisher struct {
	objects    ObjectWriter
	baseURL    string
	publishTTL time.Duration
	now        func() time.Time
	metrics    *metrics.ReplayMetrics
	logger     *slog.Logger
}

// NewPublisher creates a Publisher. baseURL prefixes the proxy path and may be empty.
func NewPublisher(objects ObjectWriter, baseURL string, publishTTL time.Duration, m *metrics.ReplayMetrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if publishTTL <= 0 || publishTTL > storage.MaxSignedURLTTL {
		publishTTL = storage.MaxSignedURLTTL
	}
	return &Publisher{
		objects:    objects,
		baseURL:    strings.TrimRight(baseURL, "/"),
		publishTTL: publishTTL,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

// SegmentObjectPrefix is the key prefix shared by every upload of one segment's kind.
func SegmentObjectPrefix(sessionID string, segmentID int, kind MediaKind) string {
	return fmt.Sprintf("%s/%s_segments/%d_%s_", sessionID, kind, segmentID, kind)
}

// SegmentKindPrefix lists all uploads of one kind for a session.
func SegmentKindPrefix(sessionID string, kind MediaKind) string {
	return fmt.Sprintf("%s/%s_segments/", sessionID, kind)
}

// SegmentProxyPath is the backend route that serves a segment's newest upload.
// The session id is escaped as a single path segment.
func SegmentProxyPath(sessionID string, segmentID int, kind MediaKind) string {
	return fmt.Sprintf("/api/segment-media/%s/%d/%s", url.PathEscape(sessionID), segmentID, kind)
}

func extensionFor(kind MediaKind) string {
	if kind == MediaVideo {
		return "mp4"
	}
	return "wav"
}

// ContentTypeFor returns the MIME type rendered files of kind are served with.
func ContentTypeFor(kind MediaKind) string {
	if kind == MediaVideo {
		return "video/mp4"
	}
	return "audio/wav"
}

// Published describes one uploaded segment file.
type Published struct {
	Key      string `json:"key"`
	ProxyURL string `json:"proxy_url"`
	Public   bool   `json:"public"`
	// SignedURL is set only when the public ACL was refused.
	SignedURL string `json:"signed_url,omitempty"`
}

// Publish uploads the file at localPath under a timestamped key and returns
// its proxy URL, which is what callers hand to browsers.
func (p *Publisher) Publish(ctx context.Context, localPath, sessionID string, segmentID int, kind MediaKind) (Published, error) {
	key := SegmentObjectPrefix(sessionID, segmentID, kind) +
		strconv.FormatInt(p.now().Unix(), 10) + "." + extensionFor(kind)

	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		p.metrics.ObservePublish(string(kind), false)
		return Published{}, fmt.Errorf("open rendered %s: %w", kind, err)
	}
	defer file.Close()

	if err := p.objects.Upload(ctx, key, file, ContentTypeFor(kind)); err != nil {
		p.metrics.ObservePublish(string(kind), false)
		return Published{}, err
	}
	p.metrics.ObservePublish(string(kind), true)

	out := Published{Key: key, ProxyURL: p.baseURL + SegmentProxyPath(sessionID, segmentID, kind)}
	log := p.logger.With("session_id", sessionID, "segment_id", segmentID, "kind", kind, "key", key)
	if err := p.objects.MakePublic(ctx, key); err != nil {
		// Buckets with uniform bucket-level access reject object ACLs.
		signed, signErr := p.objects.PresignGet(ctx, key, p.publishTTL)
		if signErr != nil {
			log.Warn("segment media is neither public nor signed", "acl_error", err, "sign_error", signErr)
			return out, nil
		}
		out.SignedURL = signed
		log.Info("public ACL rejected, signed url issued instead", "error", err)
		return out, nil
	}
	out.Public = true
	log.Info("segment media published")
	return out, nil
}
