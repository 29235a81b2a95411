package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/storage"
)

const maxChunkBytes = 64 << 20

// ErrChunkTooLarge is returned for bodies over the per-chunk size limit.
var ErrChunkTooLarge = errors.New("media chunk exceeds size limit")

// MediaKind names the track a chunk or rendered file belongs to.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// ParseMediaKind accepts "audio" or "video".
func ParseMediaKind(raw string) (MediaKind, bool) {
	switch MediaKind(strings.ToLower(raw)) {
	case MediaAudio:
		return MediaAudio, true
	case MediaVideo:
		return MediaVideo, true
	}
	return "", false
}

// URLSigner mints a fresh signed GET URL for an object key.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DownloadError is returned once every attempt for a reference has failed.
type DownloadError struct {
	Reference string
	Attempts  int
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.Reference, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type FetcherConfig struct {
	// Bucket lets signed URLs for the media bucket be regenerated.
	Bucket        string
	SignedURLTTL  time.Duration
	Timeout       time.Duration
	RetryDelay    time.Duration
	AudioAttempts int
	VideoAttempts int
}

// Fetcher downloads raw chunk bytes, re-signing the URL between attempts.
type Fetcher struct {
	client   *http.Client
	signer   URLSigner
	cfg      FetcherConfig
	maxBytes int64
	metrics  *metrics.ReplayMetrics
	logger   *slog.Logger
}

func NewFetcher(client *http.Client, signer URLSigner, cfg FetcherConfig, m *metrics.ReplayMetrics, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AudioAttempts <= 0 {
		cfg.AudioAttempts = 3
	}
	if cfg.VideoAttempts <= 0 {
		cfg.VideoAttempts = 2
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &Fetcher{client: client, signer: signer, cfg: cfg, maxBytes: maxChunkBytes, metrics: m, logger: logger}
}

func (f *Fetcher) attemptsFor(kind MediaKind) int {
	if kind == MediaVideo {
		return f.cfg.VideoAttempts
	}
	return f.cfg.AudioAttempts
}

// Fetch returns the bytes behind ref. The first attempt uses ref as given
// when it is already an HTTP URL; later attempts (and bare object keys) use a
// freshly signed URL for the same object.
func (f *Fetcher) Fetch(ctx context.Context, ref string, kind MediaKind) ([]byte, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, &DownloadError{Reference: ref, Err: errors.New("empty media reference")}
	}
	attempts := f.attemptsFor(kind)
	key, signable := f.objectKey(ref)

	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			f.metrics.ObserveRetry(string(kind))
			if err := sleepCtx(ctx, f.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		target := ref
		if signable && (attempt > 1 || !isHTTPURL(ref)) {
			signed, err := f.signer.PresignGet(ctx, key, f.cfg.SignedURLTTL)
			if err != nil {
				tried = attempt
				lastErr = fmt.Errorf("regenerate signed url: %w", err)
				f.logger.Warn("signed url regeneration failed", "reference", redact(ref), "attempt", attempt, "error", err)
				continue
			}
			target = signed
		} else if !isHTTPURL(ref) {
			lastErr = errors.New("reference is not fetchable without a signer")
			break
		}

		tried = attempt
		data, err := f.get(ctx, target)
		if err == nil {
			f.metrics.ObserveDownload(string(kind), true)
			return data, nil
		}
		lastErr = err
		f.logger.Warn("chunk download attempt failed", "reference", redact(ref), "kind", kind, "attempt", attempt, "error", err)
		if errors.Is(err, ErrChunkTooLarge) || ctx.Err() != nil {
			break
		}
	}

	f.metrics.ObserveDownload(string(kind), false)
	return nil, &DownloadError{Reference: redact(ref), Attempts: tried, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrChunkTooLarge, f.maxBytes)
	}
	return data, nil
}

// objectKey resolves the object a reference points at, if it can be re-signed.
func (f *Fetcher) objectKey(ref string) (string, bool) {
	if f.signer == nil {
		return "", false
	}
	if key, ok := storage.ObjectKeyFromRef(ref, f.cfg.Bucket); ok {
		return key, true
	}
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/"), true
	}
	return "", false
}

func isHTTPURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// redact strips query strings so signatures never reach the logs.
func redact(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.RawQuery == "" {
		return ref
	}
	u.RawQuery = ""
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
