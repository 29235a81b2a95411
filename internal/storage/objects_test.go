package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/storage/storagetest"
)

func TestObjectStore_Disabled(t *testing.T) {
	s := storage.NewObjectStore(nil, nil, "", nil)
	assert.False(t, s.Enabled())

	ctx := context.Background()
	assert.ErrorIs(t, s.Upload(ctx, "k", bytes.NewReader(nil), ""), storage.ErrNotConfigured)
	assert.ErrorIs(t, s.MakePublic(ctx, "k"), storage.ErrNotConfigured)
	_, err := s.PresignGet(ctx, "k", time.Hour)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
	_, err = s.Open(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestObjectStore_UploadOpenAndPublish(t *testing.T) {
	fake := storagetest.NewFakeS3()
	s := storage.NewObjectStore(fake, fake, "media", nil)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "sess/audio_segments/1_audio_100.wav", strings.NewReader("RIFF"), "audio/wav"))
	require.NoError(t, s.MakePublic(ctx, "sess/audio_segments/1_audio_100.wav"))
	assert.True(t, fake.IsPublic("sess/audio_segments/1_audio_100.wav"))

	obj, err := s.Open(ctx, "sess/audio_segments/1_audio_100.wav")
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))
	assert.Equal(t, "audio/wav", obj.ContentType)
	assert.Equal(t, int64(4), obj.ContentLength)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestObjectStore_UploadAndACLErrors(t *testing.T) {
	fake := storagetest.NewFakeS3()
	s := storage.NewObjectStore(fake, fake, "media", nil)
	ctx := context.Background()

	fake.PutErr = errors.New("quota exceeded")
	err := s.Upload(ctx, "k", strings.NewReader("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	fake.PutErr = nil
	fake.ACLErr = errors.New("uniform bucket-level access is enabled")
	require.NoError(t, s.Upload(ctx, "k", strings.NewReader("x"), ""))
	assert.Error(t, s.MakePublic(ctx, "k"))
	assert.False(t, fake.IsPublic("k"))
}

func TestObjectStore_PresignClampsTTL(t *testing.T) {
	fake := storagetest.NewFakeS3()
	s := storage.NewObjectStore(fake, fake, "media", nil)
	ctx := context.Background()

	url, err := s.PresignGet(ctx, "a/b.wav", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "media/a/b.wav")

	_, err = s.PresignGet(ctx, "a/b.wav", 30*24*time.Hour)
	require.NoError(t, err)
	_, err = s.PresignGet(ctx, "a/b.wav", 0)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Hour, storage.MaxSignedURLTTL, storage.MaxSignedURLTTL}, fake.PresignTTLs)
}

func TestObjectStore_ListPaginatesAndNewest(t *testing.T) {
	fake := storagetest.NewFakeS3()
	fake.PageSize = 2
	s := storage.NewObjectStore(fake, fake, "media", nil)
	ctx := context.Background()

	fake.Put("sess/video_segments/4_video_100.mp4", []byte("a"), "video/mp4")
	fake.Put("sess/video_segments/4_video_300.mp4", []byte("b"), "video/mp4")
	fake.Put("sess/video_segments/4_video_200.mp4", []byte("c"), "video/mp4")
	fake.Put("sess/video_segments/40_video_900.mp4", []byte("d"), "video/mp4")
	fake.Put("other/video_segments/4_video_999.mp4", []byte("e"), "video/mp4")

	all, err := s.List(ctx, "sess/video_segments/4_video_")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	newest, err := s.Newest(ctx, "sess/video_segments/4_video_")
	require.NoError(t, err)
	assert.Equal(t, "sess/video_segments/4_video_200.mp4", newest.Key, "last written wins")

	_, err = s.Newest(ctx, "sess/audio_segments/")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestObjectKeyFromRef(t *testing.T) {
	cases := []struct {
		ref string
		key string
		ok  bool
	}{
		{"gs://media/sess/a.pcm", "sess/a.pcm", true},
		{"https://storage.googleapis.com/media/sess/a%20b.pcm?X-Goog-Signature=abc", "sess/a b.pcm", true},
		{"https://media.storage.googleapis.com/sess/a.jpg", "sess/a.jpg", true},
		{"gs://other/sess/a.pcm", "", false},
		{"https://example.com/sess/a.pcm", "", false},
		{"gs://media/", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		key, ok := storage.ObjectKeyFromRef(tc.ref, "media")
		assert.Equal(t, tc.ok, ok, tc.ref)
		assert.Equal(t, tc.key, key, tc.ref)
	}
}
