package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"habitat-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	StoreBackend    string
	RedisURL        string

	SchemaSource   string
	SchemaFile     string
	SchemaCacheTTL time.Duration

	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string
	LLMAuth             string
	OpenAIAPIKey        string
	GeminiAPIKey        string
	LLMTimeout          time.Duration
	LLMGrace            time.Duration
	LLMRetryBackoff     time.Duration
	LLMMaxRequestBytes  int
	LLMMaxResponseBytes int64

	MaxInFlight     int
	ImageBaseURL    string
	ImageS3Bucket   string
	ImagePresignTTL time.Duration
	AWSRegion       string

	QueueBackend      string
	SQSQueueURL       string
	WorkerConcurrency int

	ReaperInterval         time.Duration
	PendingRedispatchAfter time.Duration
	PollMinInterval        time.Duration
	ShutdownTimeout        time.Duration

	SubmitRate  float64
	SubmitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.missing", map[string]any{"key": "DATABASE_URL", "env": env})
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		StoreBackend:    normalizeStoreBackend(getEnv("STORE_BACKEND", ""), dbURL),
		RedisURL:        getEnv("REDIS_URL", ""),

		SchemaSource:   normalizeSchemaSource(getEnv("SCHEMA_SOURCE", "static")),
		SchemaFile:     getEnv("SCHEMA_FILE", ""),
		SchemaCacheTTL: getDuration("SCHEMA_CACHE_TTL", time.Minute),

		LLMProvider:         strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		LLMAuth:             strings.ToLower(getEnv("LLM_AUTH", "apikey")),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		LLMTimeout:          getDuration("LLM_TIMEOUT", 60*time.Second),
		LLMGrace:            getDuration("LLM_GRACE", 2*time.Second),
		LLMRetryBackoff:     getDuration("LLM_RETRY_BACKOFF", 500*time.Millisecond),
		LLMMaxRequestBytes:  getInt("LLM_MAX_REQUEST_BYTES", 256*1024),
		LLMMaxResponseBytes: int64(getInt("LLM_MAX_RESPONSE_BYTES", 1<<20)),

		MaxInFlight:     getInt("MAX_IN_FLIGHT", 10),
		ImageBaseURL:    getEnv("IMAGE_BASE_URL", ""),
		ImageS3Bucket:   getEnv("IMAGE_S3_BUCKET", ""),
		ImagePresignTTL: getDuration("IMAGE_PRESIGN_TTL", 15*time.Minute),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		QueueBackend:      normalizeQueueBackend(getEnv("QUEUE_BACKEND", "memory")),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),

		ReaperInterval:         getDuration("REAPER_INTERVAL", 30*time.Second),
		PendingRedispatchAfter: getDuration("PENDING_REDISPATCH_AFTER", 5*time.Minute),
		PollMinInterval:        getDuration("POLL_MIN_INTERVAL", 0),
		ShutdownTimeout:        getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		SubmitRate:  getFloat("SUBMIT_RATE_PER_SEC", 0),
		SubmitBurst: getInt("SUBMIT_BURST", 10),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		invalid(key, "int", raw, err)
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		invalid(key, "float", raw, err)
		return def
	}
	return val
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		invalid(key, "duration", raw, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreBackend(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	case "memory":
		return "memory"
	}
	if strings.TrimSpace(dbURL) != "" {
		return "postgres"
	}
	return "memory"
}

func normalizeSchemaSource(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "file":
		return "file"
	case "postgres", "pg", "db":
		return "postgres"
	default:
		return "static"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	default:
		return "memory"
	}
}

func invalid(key, kind, raw string, err error) {
	telemetry.Warn("config.invalid", map[string]any{
		"key":   key,
		"want":  kind,
		"value": raw,
		"error": err,
	})
}
