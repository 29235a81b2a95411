// Package app wires configuration into the stores, clients and services
// shared by the server and the operator CLI.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"gwi.com/live-replay/internal/api"
	"gwi.com/live-replay/internal/auth"
	"gwi.com/live-replay/internal/config"
	"gwi.com/live-replay/internal/core"
	"gwi.com/live-replay/internal/media"
	"gwi.com/live-replay/internal/observability/metrics"
	"gwi.com/live-replay/internal/replay"
	"gwi.com/live-replay/internal/storage"
	"gwi.com/live-replay/internal/store"
	"gwi.com/live-replay/pkg/logging"
)

type App struct {
	Config   config.Config
	Logger   *logging.Logger
	Store    store.Store
	Redis    *redis.Client
	Objects  *storage.ObjectStore
	LLM      *core.LLMService
	Registry *prometheus.Registry

	Chats        *core.ChatService
	Interactions *core.InteractionService
	Replays      *core.ReplayService
	Tokens       *auth.TokenManager
	OAuth        *auth.GoogleOAuth
}

// New builds every dependency from cfg. Optional integrations (Gemini,
// Redis, the media bucket, Google login) degrade with a warning when unset.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st

	a.Objects, err = storage.NewFromConfig(ctx, storage.ClientConfig{
		Bucket:          cfg.StorageBucket,
		Endpoint:        cfg.StorageEndpoint,
		Region:          cfg.StorageRegion,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
	}, logger.Logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if !a.Objects.Enabled() {
		logger.Warn("STORAGE_BUCKET is not set; media uploads and segment publishing are disabled")
	}

	var statuses store.VideoStatusStore
	if a.Redis = BuildRedisClient(ctx, cfg, logger, true); a.Redis != nil {
		statuses = store.NewRedisVideoStatusStore(a.Redis)
	} else {
		logger.Info("video status records kept in memory")
		statuses = store.NewMemoryVideoStatusStore()
	}

	var responder core.Responder
	if cfg.GeminiAPIKey != "" {
		a.LLM, err = core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		responder = a.LLM
	} else {
		logger.Warn("GEMINI_API_KEY is not set; chat replies are disabled")
	}

	m := metrics.NewReplayMetrics(a.Registry)
	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, logger.Logger)
	if err := ffmpeg.Available(ctx); err != nil {
		logger.Warn("ffmpeg is not runnable; session videos will fail", "path", cfg.FFmpegPath, "error", err)
	}
	fetcher := replay.NewFetcher(&http.Client{}, a.Objects, replay.FetcherConfig{
		Bucket:        cfg.StorageBucket,
		SignedURLTTL:  cfg.StorageSignedURLTTL,
		Timeout:       cfg.DownloadTimeout,
		RetryDelay:    cfg.DownloadRetryDelay,
		AudioAttempts: cfg.AudioDownloadAttempts,
		VideoAttempts: cfg.VideoDownloadAttempts,
	}, m, logger.Logger)
	publisher := replay.NewPublisher(a.Objects, cfg.PublicBaseURL, cfg.StoragePublishURLTTL, m, logger.Logger)
	stitcher := replay.NewStitcher(fetcher, ffmpeg, publisher, replay.StitcherConfig{FrameRate: cfg.ReplayFrameRate}, m, logger.Logger)

	a.Chats = core.NewChatService(st, responder, logger.Logger)
	a.Interactions = core.NewInteractionService(st, a.Objects, cfg.StorageSignedURLTTL, logger.Logger)
	a.Replays = core.NewReplayService(st, statuses, stitcher, a.Objects, core.ReplayServiceConfig{
		GapThreshold:  cfg.ReplayGapThreshold,
		PublicBaseURL: cfg.PublicBaseURL,
	}, m, logger.Logger)
	a.Tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	a.OAuth = auth.NewGoogleOAuth(cfg.GoogleOAuthClientID, cfg.GoogleOAuthClientSecret, cfg.GoogleOAuthRedirectURL)
	return a, nil
}

// Handler returns the HTTP surface, including /metrics.
func (a *App) Handler() http.Handler {
	h := api.NewAPIHandler(api.Dependencies{
		Chats:        a.Chats,
		Interactions: a.Interactions,
		Replays:      a.Replays,
		Uploads:      a.Objects,
		Tokens:       a.Tokens,
		OAuth:        a.OAuth,
		SignedURLTTL: a.Config.StorageSignedURLTTL,
		Logger:       a.Logger,
	})
	return api.NewRouter(h, api.RouterOptions{
		Logger:         a.Logger,
		MetricsHandler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		AllowedOrigins: a.Config.CORSAllowedOrigins,
	})
}

// Close waits for background work and releases every client.
func (a *App) Close() error {
	var errs []error
	if a.Chats != nil {
		a.Chats.Wait()
	}
	if a.LLM != nil {
		errs = append(errs, a.LLM.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens Postgres for postgres:// URLs and SQLite otherwise.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.UsesPostgres() {
		st, err := store.NewPGStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return st, nil
	}
	st, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg config.Config, logger *logging.Logger, verify bool) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
