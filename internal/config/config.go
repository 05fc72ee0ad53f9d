package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	ServerPort string
	LogLevel   string

	// DatabaseURL selects the shared store. Empty runs the in-memory
	// store, which serves a single-process deployment and local dev.
	DatabaseURL string

	// SnapshotEventWindow caps the published event log.
	SnapshotEventWindow int

	// HeartbeatInterval is how often viewer connections refresh presence.
	HeartbeatInterval time.Duration
}

func Load() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		SnapshotEventWindow: 30,
		HeartbeatInterval:   30 * time.Second,
	}

	if v := os.Getenv("SNAPSHOT_EVENT_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SNAPSHOT_EVENT_WINDOW must be a positive integer, got %q", v)
		}
		cfg.SnapshotEventWindow = n
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.HeartbeatInterval = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
