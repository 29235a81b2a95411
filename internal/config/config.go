package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// maxPublishURLTTL is the longest lifetime a V4 signed URL may have.
const maxPublishURLTTL = 7 * 24 * time.Hour

type Config struct {
	HTTPPort      string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string
	PublicBaseURL string

	JWTSecret string
	JWTTTL    time.Duration

	GeminiAPIKey string
	GeminiModel  string

	GoogleOAuthClientID     string
	GoogleOAuthClientSecret string
	GoogleOAuthRedirectURL  string

	StorageBucket          string
	StorageEndpoint        string
	StorageRegion          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageSignedURLTTL    time.Duration
	StoragePublishURLTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	FFmpegPath            string
	ReplayGapThreshold    time.Duration
	ReplayFrameRate       int
	DownloadTimeout       time.Duration
	DownloadRetryDelay    time.Duration
	AudioDownloadAttempts int
	VideoDownloadAttempts int

	CORSAllowedOrigins []string
}

var AppConfig Config

// LoadConfig populates AppConfig from the environment (and an optional .env file).
func LoadConfig() {
	if !LoadEnvFile() {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Load()

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

// LoadEnvFile merges an optional .env file into the environment and reports
// whether one was read. Variables already set are not overridden.
func LoadEnvFile(filenames ...string) bool {
	return godotenv.Load(filenames...) == nil
}

// Load reads configuration from environment variables without side effects.
func Load() Config {
	cfg := Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:   getEnv("DATABASE_URL", "live_replay.db"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),

		GoogleOAuthClientID:     getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
		GoogleOAuthClientSecret: getEnv("GOOGLE_OAUTH_CLIENT_SECRET", ""),
		GoogleOAuthRedirectURL:  getEnv("GOOGLE_OAUTH_REDIRECT_URL", ""),

		StorageBucket:          getEnv("STORAGE_BUCKET", ""),
		StorageEndpoint:        getEnv("STORAGE_ENDPOINT", "https://storage.googleapis.com"),
		StorageRegion:          getEnv("STORAGE_REGION", "auto"),
		StorageAccessKeyID:     getEnv("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretAccessKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
		StorageSignedURLTTL:    getEnvAsDuration("STORAGE_SIGNED_URL_TTL", time.Hour),
		StoragePublishURLTTL:   getEnvAsDuration("STORAGE_PUBLISH_URL_TTL", maxPublishURLTTL),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		ReplayGapThreshold:    getEnvAsDuration("REPLAY_GAP_THRESHOLD", 2*time.Second),
		ReplayFrameRate:       getEnvAsInt("REPLAY_FRAME_RATE", 10),
		DownloadTimeout:       getEnvAsDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
		DownloadRetryDelay:    getEnvAsDuration("DOWNLOAD_RETRY_DELAY", 500*time.Millisecond),
		AudioDownloadAttempts: getEnvAsInt("AUDIO_DOWNLOAD_ATTEMPTS", 3),
		VideoDownloadAttempts: getEnvAsInt("VIDEO_DOWNLOAD_ATTEMPTS", 2),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.StoragePublishURLTTL <= 0 || cfg.StoragePublishURLTTL > maxPublishURLTTL {
		cfg.StoragePublishURLTTL = maxPublishURLTTL
	}
	if cfg.ReplayFrameRate <= 0 {
		cfg.ReplayFrameRate = 10
	}
	return cfg
}

// UsesPostgres reports whether DatabaseURL points at a Postgres server.
func (c Config) UsesPostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
