package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerHost string
	ServerPort string

	// bd CLI integration
	BDBinary     string // path to the bd executable
	WorkspaceDir string // directory containing the .beads workspace

	// Refresh scheduling
	DebounceWindow time.Duration // passive debounce for watcher signals
	GateTimeout    time.Duration // mutation gate auto-resolve deadline
	PollInterval   time.Duration // watcher polling fallback

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		BDBinary:     getEnv("BD_BINARY", "bd"),
		WorkspaceDir: getEnv("WORKSPACE_DIR", "."),

		DebounceWindow: getEnvDuration("DEBOUNCE_WINDOW_MS", 75),
		GateTimeout:    getEnvDuration("GATE_TIMEOUT_MS", 500),
		PollInterval:   getEnvDuration("POLL_INTERVAL_MS", 2000),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.DebounceWindow <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_WINDOW_MS must be positive")
	}
	if cfg.GateTimeout <= cfg.DebounceWindow {
		return nil, fmt.Errorf("GATE_TIMEOUT_MS must exceed DEBOUNCE_WINDOW_MS")
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration reads a millisecond count from the environment.
func getEnvDuration(key string, defaultMillis int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(defaultMillis) * time.Millisecond
}
