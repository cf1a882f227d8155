package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	JWTSecret  string
	CORSOrigin string
	// Redis - both URL and token must be set to use the durable backend;
	// otherwise the in-process fallback store is used.
	RedisURL   string
	RedisToken string
	// AI provider - OpenAI-compatible chat completions endpoint
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string
	AIMaxTokens   int
	AITemperature float64
	// Governance limits
	MaxRequestsPerMinute int64
	MaxTokensPerDay      int64
	CacheTTL             time.Duration
	RetryBaseDelay       time.Duration
	MaxRetryAttempts     int
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8787"),
		JWTSecret:  getenv("PAPERAI_JWT_SECRET", ""),
		CORSOrigin: getenv("PAPERAI_CORS_ORIGIN", "*"),

		// Redis - empty by default, in-process store used if not configured
		RedisURL:   getenv("REDIS_URL", ""),
		RedisToken: getenv("REDIS_TOKEN", ""),

		AIAPIKey:      getenv("AI_API_KEY", ""),
		AIBaseURL:     getenv("AI_BASE_URL", ""),
		AIModel:       getenv("AI_MODEL", "gpt-4o-mini"),
		AIMaxTokens:   getenvInt("AI_MAX_TOKENS", 2000),
		AITemperature: getenvFloat("AI_TEMPERATURE", 0.7),

		MaxRequestsPerMinute: int64(getenvInt("PAPERAI_MAX_REQUESTS_PER_MINUTE", 20)),
		MaxTokensPerDay:      int64(getenvInt("PAPERAI_MAX_TOKENS_PER_DAY", 100000)),
		CacheTTL:             time.Duration(getenvInt("PAPERAI_CACHE_TTL_SECONDS", 86400)) * time.Second,
		RetryBaseDelay:       time.Duration(getenvInt("PAPERAI_RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		MaxRetryAttempts:     getenvInt("PAPERAI_MAX_RETRY_ATTEMPTS", 3),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
