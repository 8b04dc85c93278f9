package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all station agent configuration.
type Config struct {
	ServerPort  string
	GinMode     string
	LogLevel    string
	LogFormat   string
	StationName string
	// DataDir holds the station's local SQLite database.
	DataDir string
	// BackendURL is the base URL of the central test backend. The agent
	// talks to it only through its public HTTP contract.
	BackendURL     string
	BackendTimeout time.Duration
	// RedisURL enables the lab-shared completion cache when set. Empty
	// means the station relies on its local SQLite cache alone.
	RedisURL   string
	BcryptCost int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation
	// for the local UI. Empty slice means all origins are permitted.
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		StationName:    getEnv("STATION_NAME", "station"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000/api"),
		BackendTimeout: time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,
		RedisURL:       getEnv("REDIS_URL", ""),
		BcryptCost:     getEnvInt("BCRYPT_COST", 10),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

// DatabasePath returns the SQLite file path inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "station.db")
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
