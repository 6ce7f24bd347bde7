package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the exam CLI needs to reach a backend.
type Config struct {
	APIBaseURL string
	Token      string
	ExamID     string
	EntryToken string
	LogLevel   string
	LogFormat  string

	PingInterval         time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int
}

// Load reads configuration from environment variables with sensible
// defaults. It loads .env if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		APIBaseURL: getEnv("EXSTEM_API_URL", "http://localhost:8080"),
		Token:      getEnv("EXSTEM_TOKEN", ""),
		ExamID:     getEnv("EXSTEM_EXAM_ID", ""),
		EntryToken: getEnv("EXSTEM_ENTRY_TOKEN", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "pretty"),

		PingInterval:         time.Duration(getEnvInt("PING_INTERVAL_SECONDS", 120)) * time.Second,
		BackoffBase:          time.Duration(getEnvInt("BACKOFF_BASE_MS", 1000)) * time.Millisecond,
		BackoffCap:           time.Duration(getEnvInt("BACKOFF_CAP_MS", 16000)) * time.Millisecond,
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
