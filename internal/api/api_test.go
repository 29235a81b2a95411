package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"gwi.com/live-replay/internal/auth"
	"gwi.com/live-replay/internal/core"
	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/replay"
	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/storage/storagetest"
	"gwi.com/live-replay/internal/store"
	"gwi.com/live-replay/pkg/logging"
)

type stubResponder struct{}

func (stubResponder) Reply(context.Context, []store.Message) (string, error) { return "model says hi", nil }

func (stubResponder) Title(context.Context, string) (string, error) { return "A Title", nil }

type stubStitcher struct{}

func (stubStitcher) CreateSessionVideo(_ context.Context, sessionID string, segments []replay.Segment) (map[int]replay.SegmentMedia, error) {
	out := map[int]replay.SegmentMedia{}
	for _, seg := range segments {
		out[seg.ID] = replay.SegmentMedia{SegmentID: seg.ID, AudioURL: replay.SegmentProxyPath(sessionID, seg.ID, replay.MediaAudio)}
	}
	return out, nil
}

type testServer struct {
	handler http.Handler
	fake    *storagetest.FakeS3
	chats   *core.ChatService
	tokens  *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithOrigins(t, nil)
}

func newTestServerWithOrigins(t *testing.T, origins []string) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := logging.NewWithFormat("error", "text", io.Discard)
	fake := storagetest.NewFakeS3()
	objects := storage.NewObjectStore(fake, fake, "media", logger.Logger)
	registry := prometheus.NewRegistry()
	m := metrics.NewReplayMetrics(registry)

	chats := core.NewChatService(st, stubResponder{}, logger.Logger)
	t.Cleanup(chats.Wait)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	h := NewAPIHandler(Dependencies{
		Chats:        chats,
		Interactions: core.NewInteractionService(st, objects, time.Hour, logger.Logger),
		Replays: core.NewReplayService(st, store.NewMemoryVideoStatusStore(), stubStitcher{}, objects,
			core.ReplayServiceConfig{}, m, logger.Logger),
		Uploads:      objects,
		Tokens:       tokens,
		SignedURLTTL: time.Hour,
		Logger:       logger,
	})
	router := NewRouter(h, RouterOptions{
		Logger:         logger,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: origins,
	})
	return &testServer{handler: router, fake: fake, chats: chats, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, userID string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/signup", "", SignupRequest{UserID: userID, Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: userID, Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	token := s.login(t, "alice")

	rec = s.do(t, http.MethodPost, "/api/signup", "", SignupRequest{UserID: "alice", Password: "pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/chats", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ghost, err := s.tokens.GenerateJWT("ghost")
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/chats", ghost, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/chats", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoogleLoginNotConfigured(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/auth/google/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")
	other := s.login(t, "bob")

	first := "hello"
	rec := s.do(t, http.MethodPost, "/api/chats", token, CreateChatRequest{FirstMessage: &first})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateChatResponse](t, rec)
	require.Len(t, created.Messages, 2)
	assert.Equal(t, "model says hi", created.Messages[1].Content)

	rec = s.do(t, http.MethodPost, "/api/chats/"+created.ID+"/messages", token, PostMessageRequest{Content: "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[store.Message](t, rec)
	assert.Equal(t, "model", reply.Sender)

	rec = s.do(t, http.MethodPost, "/api/chats/"+created.ID+"/messages", token, PostMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/chats/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/messages/"+reply.ID+"/feedback", token, FeedbackRequest{Negative: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/messages/missing/feedback", token, FeedbackRequest{Negative: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/chats/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[GetChatDetailsResponse](t, rec)
	assert.Len(t, details.Messages, 4)

	rec = s.do(t, http.MethodDelete, "/api/chats/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/chats/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/chats/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func recordAudio(t *testing.T, s *testServer, token, sessionID string, ms int64, mic bool) {
	t.Helper()
	ev := map[string]any{
		"interaction_type": "audio_chunk",
		"timestamp":        ms,
		"metadata":         map[string]any{"microphone_on": mic},
		"media_reference":  "raw/chunk.pcm",
	}
	rec := s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/interactions", token, ev)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestInteractionAndReplayRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")
	const t0 int64 = 1_772_366_400_000

	rec := s.do(t, http.MethodPost, "/api/create-session-video", token, CreateSessionVideoRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/create-session-video", token, CreateSessionVideoRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	recordAudio(t, s, token, "s1", t0, true)
	recordAudio(t, s, token, "s1", t0+500, true)
	recordAudio(t, s, token, "s1", t0+1000, false)

	rec = s.do(t, http.MethodPost, "/api/sessions/s1/interactions", token, map[string]any{"interaction_type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/sessions/s1/interactions?resolve=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]store.InteractionLog](t, rec)
	require.Len(t, logs, 3)
	assert.True(t, strings.HasPrefix(logs[0].MediaReference, "https://signed.example/media/raw/chunk.pcm"))

	rec = s.do(t, http.MethodGet, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.SessionSummary](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/sessions/s1/segments", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	segs := decode[SegmentsResponse](t, rec)
	assert.Equal(t, 2, segs.SegmentCount)

	rec = s.do(t, http.MethodGet, "/api/analyze-session/s1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[replay.QualityReport](t, rec)
	assert.Equal(t, 3, report.TotalLogs)

	rec = s.do(t, http.MethodGet, "/api/session-video-status/s1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/create-session-video", token, CreateSessionVideoRequest{SessionID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	video := decode[core.SessionVideo](t, rec)
	assert.Equal(t, 2, video.SegmentCount)
	assert.Equal(t, "/api/segment-media/s1/2/audio", video.Segments[2].AudioURL)

	rec = s.do(t, http.MethodGet, "/api/session-video-status/s1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[store.VideoStatus](t, rec)
	assert.Equal(t, store.VideoStatusCompleted, status.Status)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "liveapi_replay_segments_total")
}

func TestSegmentMediaRoute(t *testing.T) {
	s := newTestServer(t)
	s.fake.Put("s1/video_segments/2_video_1700000000.mp4", []byte("mp4-bytes"), "video/mp4")

	rec := s.do(t, http.MethodGet, "/api/segment-media/s1/2/video", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp4-bytes", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/segment-media/s1/2/subtitles", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/segment-media/s1/zero/audio", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/segment-media/s1/2/audio", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	token := s.login(t, "alice")
	rec = s.do(t, http.MethodGet, "/api/segment-info/s1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[core.SegmentInfo](t, rec)
	require.Len(t, info.Video, 1)
	assert.Equal(t, "/api/segment-media/s1/2/video", info.Video[0].ProxyURL)
}

func TestSegmentMediaRoute_UnusualSessionIDs(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	for _, sessionID := range []string{"live#7", "room?a=1", "a/b", "50% done"} {
		t.Run(sessionID, func(t *testing.T) {
			key := replay.SegmentObjectPrefix(sessionID, 3, replay.MediaAudio) + "1700000000.wav"
			s.fake.Put(key, []byte("wav:"+sessionID), "audio/wav")

			proxy := replay.SegmentProxyPath(sessionID, 3, replay.MediaAudio)
			rec := s.do(t, http.MethodGet, proxy, "", nil)
			require.Equal(t, http.StatusOK, rec.Code, proxy)
			assert.Equal(t, "wav:"+sessionID, rec.Body.String())

			rec = s.do(t, http.MethodGet, "/api/segment-info/"+url.PathEscape(sessionID), token, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			info := decode[core.SegmentInfo](t, rec)
			assert.Equal(t, sessionID, info.SessionID)
			require.Len(t, info.Audio, 1)
			assert.Equal(t, proxy, info.Audio[0].ProxyURL)
		})
	}
}

func TestUploadRoute(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("session_id", "s9"))
	part, err := mw.CreateFormFile("file", "../notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[UploadResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.Object, "uploads/s9/"), resp.Object)
	assert.True(t, strings.HasSuffix(resp.Object, "_notes.txt"), resp.Object)
	assert.Contains(t, resp.URL, "https://signed.example/media/uploads/s9/")
	stored, ok := s.fake.Body(resp.Object)
	require.True(t, ok)
	assert.Equal(t, "notes", string(stored))

	rec = s.do(t, http.MethodPost, "/api/upload", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureWebsocket(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/live-1/capture?token=" + token
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, websocket.JSON.Send(conn, map[string]any{"type": "ping"}))
	var reply captureReply
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	assert.Equal(t, "pong", reply.Type)

	require.NoError(t, websocket.JSON.Send(conn, map[string]any{
		"type":             "interaction",
		"interaction_type": "user_action",
		"timestamp":        "2026-03-01T12:00:00Z",
		"sequence_number":  7,
		"metadata":         map[string]any{"action_type": "mic_on"},
	}))
	reply = captureReply{}
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	assert.Equal(t, "ack", reply.Type)
	assert.NotZero(t, reply.ID)
	require.NotNil(t, reply.SequenceNumber)
	assert.Equal(t, int64(7), *reply.SequenceNumber)

	require.NoError(t, websocket.JSON.Send(conn, map[string]any{"type": "interaction", "interaction_type": "nope"}))
	reply = captureReply{}
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	assert.Equal(t, "error", reply.Type)

	rec := s.do(t, http.MethodGet, "/api/sessions/live-1/interactions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]store.InteractionLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "mic_on", logs[0].Metadata.ActionType)
}
