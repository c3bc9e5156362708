package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment once at startup.
// Business settings (VAT, margin policy) are not here; they live in app_settings.
type Config struct {
	DatabaseURL      string
	ServerPort       string
	JWTSecret        string
	AllowedOrigins   string
	RedisAddress     string
	SettingsCacheTTL time.Duration
	OTLPEndpoint     string
	ServiceName      string
	LogLevel         string
	AuditBuffer      int
	RateLimit        int
	RateLimitWindow  time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigins:   os.Getenv("ALLOWED_ORIGINS"),
		RedisAddress:     os.Getenv("REDIS_ADDRESS"),
		SettingsCacheTTL: getDuration("SETTINGS_CACHE_TTL", 30*time.Second),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:      getEnv("SERVICE_NAME", "wholesale-fulfillment"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		AuditBuffer:      getInt("AUDIT_BUFFER", 256),
		RateLimit:        getInt("RATE_LIMIT", 0),
		RateLimitWindow:  getDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}
