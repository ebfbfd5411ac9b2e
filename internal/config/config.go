package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string
	Lang       string
	// RedisURL enables the shared tab store, beacon queue and live monitor.
	// Empty means single-process in-memory mode.
	RedisURL  string
	JWTSecret string

	BackendURL     string
	BackendTimeout time.Duration

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string

	Proctoring Proctoring
}

// Proctoring holds the cadences of one exam session.
type Proctoring struct {
	AutosaveInterval   time.Duration
	EndWarning         time.Duration
	GraceWindow        time.Duration
	SubmitRetry        time.Duration
	ActionHeartbeat    time.Duration
	IntentionalExit    time.Duration
	TabBeatInterval    time.Duration
	TabCheckInterval   time.Duration
	TabFreshness       time.Duration
	FullscreenDeadline time.Duration
}

// DefaultProctoring returns the production cadences.
func DefaultProctoring() Proctoring {
	return Proctoring{
		AutosaveInterval:   5 * time.Second,
		EndWarning:         30 * time.Second,
		GraceWindow:        10 * time.Second,
		SubmitRetry:        15 * time.Second,
		ActionHeartbeat:    5 * time.Second,
		IntentionalExit:    500 * time.Millisecond,
		TabBeatInterval:    time.Second,
		TabCheckInterval:   2 * time.Second,
		TabFreshness:       3 * time.Second,
		FullscreenDeadline: 10 * time.Second,
	}
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	p := DefaultProctoring()
	p.AutosaveInterval = getEnvSeconds("AUTOSAVE_INTERVAL_SECONDS", p.AutosaveInterval)
	p.EndWarning = getEnvSeconds("END_WARNING_SECONDS", p.EndWarning)
	p.GraceWindow = getEnvSeconds("GRACE_SECONDS", p.GraceWindow)
	p.SubmitRetry = getEnvSeconds("SUBMIT_RETRY_SECONDS", p.SubmitRetry)
	p.ActionHeartbeat = getEnvSeconds("HEARTBEAT_ACTION_SECONDS", p.ActionHeartbeat)

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		Lang:           getEnv("LANG_CODE", "en"),
		RedisURL:       getEnv("REDIS_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://localhost/alpha/backend"), "/"),
		BackendTimeout: getEnvSeconds("BACKEND_TIMEOUT_SECONDS", 15*time.Second),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		Proctoring:     p,
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

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
