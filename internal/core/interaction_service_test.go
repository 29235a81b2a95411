package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/storage/storagetest"
	"gwi.com/live-replay/internal/store"
)

func newInteractionService(t *testing.T) (*InteractionService, *storagetest.FakeS3) {
	t.Helper()
	fake := storagetest.NewFakeS3()
	objects := storage.NewObjectStore(fake, fake, "media", nil)
	svc := NewInteractionService(newTestStore(t), objects, time.Hour, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, fake
}

func TestInteractionService_RecordUploadsInlineMedia(t *testing.T) {
	svc, fake := newInteractionService(t)
	ctx := context.Background()

	pcm := []byte{1, 2, 3, 4}
	entry, err := svc.Record(ctx, "sess-1", CaptureEvent{
		InteractionType: store.InteractionAudioChunk,
		Timestamp:       json.RawMessage(`1772366400250`),
		Metadata:        store.InteractionMetadata{MicrophoneOn: boolPtr(true), MimeType: "audio/pcm;rate=16000"},
		MediaData:       base64.StdEncoding.EncodeToString(pcm),
	})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.True(t, strings.HasPrefix(entry.MediaReference, "sess-1/raw/audio_chunk/"), entry.MediaReference)
	assert.True(t, strings.HasSuffix(entry.MediaReference, ".pcm"), entry.MediaReference)
	assert.Equal(t, int64(1772366400250), entry.Timestamp.UnixMilli())

	body, ok := fake.Body(entry.MediaReference)
	require.True(t, ok)
	assert.Equal(t, pcm, body)
}

func TestInteractionService_RecordTimestamps(t *testing.T) {
	svc, _ := newInteractionService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "iso string", raw: `"2026-03-01T12:00:00.250Z"`, want: time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC)},
		{name: "zoneless string", raw: `"2026-03-01T12:00:00"`, want: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{name: "epoch millis", raw: `1772366400250`, want: time.UnixMilli(1772366400250).UTC()},
		{name: "missing uses now", raw: ``, want: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{name: "malformed is zero", raw: `"yesterday"`, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := svc.Record(ctx, "sess-ts", CaptureEvent{
				InteractionType: store.InteractionUserAction,
				Timestamp:       json.RawMessage(tt.raw),
			})
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(entry.Timestamp), "got %s", entry.Timestamp)
		})
	}
}

func TestInteractionService_RecordRejectsBadInput(t *testing.T) {
	svc, _ := newInteractionService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, " ", CaptureEvent{InteractionType: store.InteractionUserAction})
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	_, err = svc.Record(ctx, "sess", CaptureEvent{InteractionType: "screen_share"})
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	_, err = svc.Record(ctx, "sess", CaptureEvent{InteractionType: store.InteractionVideoFrame, MediaData: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	noMedia := NewInteractionService(newTestStore(t), nil, 0, nil)
	_, err = noMedia.Record(ctx, "sess", CaptureEvent{InteractionType: store.InteractionVideoFrame, MediaData: "AAAA"})
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestInteractionService_ListResolvesBucketReferences(t *testing.T) {
	svc, _ := newInteractionService(t)
	ctx := context.Background()

	refs := []string{"sess/raw/audio_chunk/a.pcm", "gs://media/sess/raw/video_frame/b.jpg", "https://cdn.example/c.jpg", ""}
	for i, ref := range refs {
		_, err := svc.Record(ctx, "sess", CaptureEvent{
			InteractionType: store.InteractionAudioChunk,
			Timestamp:       json.RawMessage(`"2026-03-01T12:00:0` + string(rune('0'+i)) + `Z"`),
			MediaReference:  ref,
		})
		require.NoError(t, err)
	}

	raw, err := svc.List(ctx, "sess", false)
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.Equal(t, refs[0], raw[0].MediaReference)

	resolved, err := svc.List(ctx, "sess", true)
	require.NoError(t, err)
	require.Len(t, resolved, 4)
	assert.Equal(t, "https://signed.example/media/sess/raw/audio_chunk/a.pcm?X-Amz-Expires=3600", resolved[0].MediaReference)
	assert.Equal(t, "https://signed.example/media/sess/raw/video_frame/b.jpg?X-Amz-Expires=3600", resolved[1].MediaReference)
	assert.Equal(t, "https://cdn.example/c.jpg", resolved[2].MediaReference)
	assert.Empty(t, resolved[3].MediaReference)
}

func TestInteractionService_Import(t *testing.T) {
	svc, _ := newInteractionService(t)
	ctx := context.Background()

	input := strings.Join([]string{
		`{"session_id":"a","interaction_type":"audio_chunk","timestamp":1772366400000,"metadata":{"microphone_on":true},"media_reference":"a/raw/1.pcm"}`,
		``,
		`{"session_id":"a","interaction_type":"api_response","timestamp":"2026-03-01T12:00:01Z","metadata":{"response_type":"text","text":"hi"}}`,
		`not json`,
		`{"session_id":"b","interaction_type":"mystery"}`,
		`{"session_id":"b","interaction_type":"text_input","timestamp":"2026-03-01T12:00:02Z"}`,
	}, "\n")

	result, err := svc.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []string{"a", "b"}, result.Sessions)

	sessions, err := svc.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	logs, err := svc.List(ctx, "a", false)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, store.InteractionAudioChunk, logs[0].InteractionType)
	require.NotNil(t, logs[0].Metadata.MicrophoneOn)
	assert.True(t, *logs[0].Metadata.MicrophoneOn)
}

func TestExtensionForMime(t *testing.T) {
	assert.Equal(t, "pcm", extensionForMime("audio/pcm;rate=24000"))
	assert.Equal(t, "jpg", extensionForMime("IMAGE/JPEG"))
	assert.Equal(t, "png", extensionForMime("image/png"))
	assert.Equal(t, "bin", extensionForMime(""))
}
