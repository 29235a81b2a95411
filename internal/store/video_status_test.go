package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() *VideoStatus {
	finished := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	return &VideoStatus{
		SessionID:    "sess-1",
		Status:       VideoStatusCompleted,
		SegmentCount: 2,
		SegmentMedia: map[int]SegmentMediaURLs{
			3: {AudioURL: "/api/segment-media/sess-1/3/audio"},
			4: {AudioURL: "/api/segment-media/sess-1/4/audio", VideoURL: "/api/segment-media/sess-1/4/video"},
		},
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
	}
}

func TestRedisVideoStatusStore_RoundTripWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisVideoStatusStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.SaveVideoStatus(ctx, sampleStatus()))

	got, err := s.GetVideoStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, VideoStatusCompleted, got.Status)
	assert.Equal(t, "/api/segment-media/sess-1/4/video", got.SegmentMedia[4].VideoURL)
	assert.Equal(t, videoStatusTTL, mr.TTL(videoStatusKey("sess-1")))

	mr.FastForward(videoStatusTTL + time.Second)
	got, err = s.GetVideoStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got, "status should expire after its TTL")
}

func TestRedisVideoStatusStore_MissingAndInvalid(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisVideoStatusStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	got, err := s.GetVideoStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.SaveVideoStatus(ctx, &VideoStatus{}))

	require.NoError(t, mr.Set(videoStatusKey("broken"), "{not json"))
	_, err = s.GetVideoStatus(ctx, "broken")
	assert.Error(t, err)
}

func TestMemoryVideoStatusStore(t *testing.T) {
	s := NewMemoryVideoStatusStore()
	ctx := context.Background()

	got, err := s.GetVideoStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	status := sampleStatus()
	require.NoError(t, s.SaveVideoStatus(ctx, status))
	status.Status = VideoStatusFailed // callers mutating their copy must not leak in

	got, err = s.GetVideoStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, VideoStatusCompleted, got.Status)
}
