package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string
	DBDriver    string // "postgres" (default) or "sqlite"

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string // optional shared secret for POST /dispatch

	AutomationWebhookURL string
	RabbitURL            string
	RabbitQueue          string

	S3Enabled   bool
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	S3PublicURL string
	S3Folder    string

	DebounceWindow    time.Duration
	FloodWindow       time.Duration
	HeartbeatInterval time.Duration
	HTTPTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables. A .env file is
// read first if present; real environment variables take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: os.Getenv("LOG_LEVEL"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBDriver:    getEnv("DB_DRIVER", "postgres"),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "http://localhost:8081"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),

		AutomationWebhookURL: os.Getenv("AUTOMATION_WEBHOOK_URL"),
		RabbitURL:            os.Getenv("RABBITMQ_URL"),
		RabbitQueue:          getEnv("RABBITMQ_QUEUE", "zapdesk_events"),

		S3Enabled:   getBool("S3_ENABLED", false),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3PathStyle: getBool("S3_PATH_STYLE", false),
		S3PublicURL: os.Getenv("S3_PUBLIC_URL"),
		S3Folder:    getEnv("S3_FOLDER", "media"),

		DebounceWindow:    getMillis("DEBOUNCE_MS", 2000),
		FloodWindow:       getMillis("FLOOD_MS", 15000),
		HeartbeatInterval: getMillis("SSE_HEARTBEAT_MS", 25000),
		HTTPTimeout:       getMillis("HTTP_TIMEOUT_MS", 10000),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using fallback")
		return fallback
	}
	return b
}

func getMillis(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using fallback")
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
