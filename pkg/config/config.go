package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Browserless BrowserlessConfig
	Storage     StorageConfig
	Cloudinary  CloudinaryConfig
	S3          S3Config
	Capture     CaptureConfig
	Redis       RedisConfig
	NATS        NATSConfig
	CloudWatch  CloudWatchConfig
	Security    SecurityConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// BrowserlessConfig is read once at startup; empty values are reported per request, not here.
type BrowserlessConfig struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	MaxResponseBytes int64
}

type StorageProvider string

const (
	StorageProviderNone       StorageProvider = "none"
	StorageProviderCloudinary StorageProvider = "cloudinary"
	StorageProviderS3         StorageProvider = "s3"
)

type StorageConfig struct {
	Provider StorageProvider
}

type CloudinaryConfig struct {
	URL    string
	Folder string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeyPrefix       string
	URLMode         string
	PresignedTTL    time.Duration
	JPEGQuality     int
}

type CaptureConfig struct {
	MaxBodyBytes       int64
	RateLimitPerMinute int
	RateLimitBackend   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
	JetStream     bool
}

type CloudWatchConfig struct {
	Region               string
	Endpoint             string
	AccessKeyID          string
	SecretAccessKey      string
	MetricsEnabled       bool
	MetricsNamespace     string
	MetricsDimensions    map[string]string
	MetricsBufferSize    int
	MetricsFlushInterval time.Duration
	LogsEnabled          bool
	LogGroupName         string
	LogStreamName        string
	LogsBufferSize       int
	LogsFlushInterval    time.Duration
}

type SecurityConfig struct {
	AllowedOrigins []string
	AuthEnabled    bool
	AuthToken      string

	// TrustProxyHeaders keys rate limiting on X-Forwarded-For; enable only behind a proxy that sets it.
	TrustProxyHeaders bool
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	writeTimeout, err := parseDuration(getEnv("SERVER_WRITE_TIMEOUT", "90s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}

	browserlessTimeout, err := parseDuration(getEnv("BROWSERLESS_TIMEOUT", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROWSERLESS_TIMEOUT: %w", err)
	}

	maxRenderMB, err := strconv.Atoi(getEnv("RENDER_MAX_RESPONSE_MB", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_MAX_RESPONSE_MB: %w", err)
	}

	presignedTTL, err := parseDuration(getEnv("S3_PRESIGNED_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_PRESIGNED_TTL: %w", err)
	}

	jpegQuality, err := strconv.Atoi(getEnv("S3_JPEG_QUALITY", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_JPEG_QUALITY: %w", err)
	}

	maxBodyKB, err := strconv.Atoi(getEnv("CAPTURE_MAX_BODY_KB", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_MAX_BODY_KB: %w", err)
	}

	rateLimitPerMinute, err := strconv.Atoi(getEnv("CAPTURE_RATE_LIMIT_PER_MINUTE", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_RATE_LIMIT_PER_MINUTE: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	logMaxSizeMB, err := strconv.Atoi(getEnv("LOG_MAX_SIZE_MB", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_MAX_SIZE_MB: %w", err)
	}

	metricsFlush, err := parseDuration(getEnv("CLOUDWATCH_METRICS_FLUSH_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_METRICS_FLUSH_INTERVAL: %w", err)
	}

	logsFlush, err := parseDuration(getEnv("CLOUDWATCH_LOGS_FLUSH_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_LOGS_FLUSH_INTERVAL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    writeTimeout,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  logMaxSizeMB,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Browserless: BrowserlessConfig{
			BaseURL:          strings.TrimSpace(os.Getenv("BROWSERLESS_BASE_URL")),
			Token:            strings.TrimSpace(os.Getenv("BROWSERLESS_TOKEN")),
			Timeout:          browserlessTimeout,
			MaxResponseBytes: int64(maxRenderMB) * 1024 * 1024,
		},
		Storage: StorageConfig{
			Provider: StorageProvider(strings.ToLower(getEnv("STORAGE_PROVIDER", string(StorageProviderCloudinary)))),
		},
		Cloudinary: CloudinaryConfig{
			URL:    getEnv("CLOUDINARY_URL", ""),
			Folder: getEnv("CLOUDINARY_FOLDER", "screenshots"),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "ru-central1"),
			Endpoint:        getEnv("S3_ENDPOINT", "https://storage.yandexcloud.net"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", true),
			KeyPrefix:       getEnv("S3_KEY_PREFIX", "screenshots"),
			URLMode:         getEnv("S3_URL_MODE", "public"),
			PresignedTTL:    presignedTTL,
			JPEGQuality:     jpegQuality,
		},
		Capture: CaptureConfig{
			MaxBodyBytes:       int64(maxBodyKB) * 1024,
			RateLimitPerMinute: rateLimitPerMinute,
			RateLimitBackend:   strings.ToLower(getEnv("CAPTURE_RATE_LIMIT_BACKEND", "memory")),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "screenshot"),
			JetStream:     getEnvBool("NATS_JETSTREAM", false),
		},
		CloudWatch: CloudWatchConfig{
			Region:               getEnv("CLOUDWATCH_REGION", "us-east-1"),
			Endpoint:             getEnv("CLOUDWATCH_ENDPOINT", ""),
			AccessKeyID:          getEnv("CLOUDWATCH_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("CLOUDWATCH_SECRET_ACCESS_KEY", ""),
			MetricsEnabled:       getEnvBool("CLOUDWATCH_METRICS_ENABLED", false),
			MetricsNamespace:     getEnv("CLOUDWATCH_METRICS_NAMESPACE", "ScreenshotAPI/Capture"),
			MetricsDimensions:    parseDimensions(getEnv("CLOUDWATCH_METRICS_DIMENSIONS", "")),
			MetricsBufferSize:    100,
			MetricsFlushInterval: metricsFlush,
			LogsEnabled:          getEnvBool("CLOUDWATCH_LOGS_ENABLED", false),
			LogGroupName:         getEnv("CLOUDWATCH_LOG_GROUP", "/screenshot-api"),
			LogStreamName:        getEnv("CLOUDWATCH_LOG_STREAM", hostnameOr("screenshot-api")),
			LogsBufferSize:       50,
			LogsFlushInterval:    logsFlush,
		},
		Security: SecurityConfig{
			AllowedOrigins:    splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
			AuthEnabled:       getEnvBool("AUTH_ENABLED", false),
			AuthToken:         getEnv("AUTH_BEARER_TOKEN", ""),
			TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
		},
	}

	if cfg.Security.AuthEnabled && cfg.Security.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}

	switch cfg.Storage.Provider {
	case StorageProviderNone, StorageProviderCloudinary, StorageProviderS3:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROVIDER: %s", cfg.Storage.Provider)
	}

	switch cfg.Capture.RateLimitBackend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unsupported CAPTURE_RATE_LIMIT_BACKEND: %s", cfg.Capture.RateLimitBackend)
	}

	if cfg.S3.JPEGQuality < 1 || cfg.S3.JPEGQuality > 100 {
		return nil, fmt.Errorf("S3_JPEG_QUALITY must be between 1 and 100")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func hostnameOr(fallback string) string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return fallback
	}
	return host
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			items = append(items, value)
		}
	}
	return items
}

// parseDimensions разбирает "Environment=prod,Service=api" в map.
func parseDimensions(raw string) map[string]string {
	dimensions := make(map[string]string)
	for _, pair := range splitCSV(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		dimensions[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return dimensions
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
