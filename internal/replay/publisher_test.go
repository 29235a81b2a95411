package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/storage/storagetest"
)

func writeRendered(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPublisher_UploadsAndMakesPublic(t *testing.T) {
	fake := storagetest.NewFakeS3()
	objects := storage.NewObjectStore(fake, fake, "media", nil)
	p := NewPublisher(objects, "https://api.example.com/", 0, nil, nil)
	p.now = func() time.Time { return time.Unix(1_700_000_123, 0) }

	out, err := p.Publish(context.Background(), writeRendered(t, "a.wav", "RIFF"), "sess", 4, MediaAudio)
	require.NoError(t, err)

	assert.Equal(t, "sess/audio_segments/4_audio_1700000123.wav", out.Key)
	assert.Equal(t, "https://api.example.com/api/segment-media/sess/4/audio", out.ProxyURL)
	assert.True(t, out.Public)
	assert.Empty(t, out.SignedURL)
	assert.True(t, fake.IsPublic(out.Key))

	body, ok := fake.Body(out.Key)
	require.True(t, ok)
	assert.Equal(t, "RIFF", string(body))
}

func TestPublisher_FallsBackToSignedURL(t *testing.T) {
	fake := storagetest.NewFakeS3()
	fake.ACLErr = errors.New("cannot use ACL API with uniform bucket-level access")
	objects := storage.NewObjectStore(fake, fake, "media", nil)
	p := NewPublisher(objects, "", 30*24*time.Hour, nil, nil)

	out, err := p.Publish(context.Background(), writeRendered(t, "v.mp4", "mp4"), "sess", 2, MediaVideo)
	require.NoError(t, err)
	assert.False(t, out.Public)
	assert.True(t, strings.HasPrefix(out.Key, "sess/video_segments/2_video_"))
	assert.True(t, strings.HasSuffix(out.Key, ".mp4"))
	assert.NotEmpty(t, out.SignedURL)
	assert.Equal(t, "/api/segment-media/sess/2/video", out.ProxyURL, "callers always get the proxy path")
	assert.Equal(t, []time.Duration{storage.MaxSignedURLTTL}, fake.PresignTTLs, "ttl is capped at seven days")
}

func TestPublisher_UploadFailure(t *testing.T) {
	fake := storagetest.NewFakeS3()
	fake.PutErr = errors.New("503 slow down")
	p := NewPublisher(storage.NewObjectStore(fake, fake, "media", nil), "", time.Hour, nil, nil)

	_, err := p.Publish(context.Background(), writeRendered(t, "a.wav", "x"), "sess", 1, MediaAudio)
	require.Error(t, err)
	assert.Empty(t, fake.Keys())

	_, err = p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "sess", 1, MediaAudio)
	assert.Error(t, err)
}

func TestSegmentPaths(t *testing.T) {
	assert.Equal(t, "s/video_segments/12_video_", SegmentObjectPrefix("s", 12, MediaVideo))
	assert.Equal(t, "s/audio_segments/", SegmentKindPrefix("s", MediaAudio))
	assert.Equal(t, "/api/segment-media/s/12/video", SegmentProxyPath("s", 12, MediaVideo))
	assert.Equal(t, "/api/segment-media/live%237/3/audio", SegmentProxyPath("live#7", 3, MediaAudio))
	assert.Equal(t, "/api/segment-media/room%3Fa=1/3/audio", SegmentProxyPath("room?a=1", 3, MediaAudio))
	assert.Equal(t, "/api/segment-media/a%2Fb/3/audio", SegmentProxyPath("a/b", 3, MediaAudio))
	assert.Equal(t, "audio/wav", ContentTypeFor(MediaAudio))
	assert.Equal(t, "video/mp4", ContentTypeFor(MediaVideo))
}
