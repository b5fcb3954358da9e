// Package config loads backend configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jjperez22/the-ERP-sub000/internal/logging"
)

// Config holds all runtime configuration for the backend.
type Config struct {
	Port    string
	Env     string
	DataDir string

	// Remote sync endpoint
	RemoteBaseURL string

	// Sync engine tuning
	SyncInterval    time.Duration // periodic sync trigger when online
	BatchSize       int           // actions dispatched concurrently per batch
	DispatchTimeout time.Duration // per remote call
	InterBatchDelay time.Duration // pause between batches within a pass
	MaxAttempts     int           // retryable failures before an action is dropped
	BackoffCap      time.Duration // upper bound on exponential backoff
	QueueMaxSize    int
}

// Load reads configuration from .env (if present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logging.Debug("no .env file found, using environment variables")
	}

	return Config{
		Port:            getEnv("PORT", "8090"),
		Env:             getEnv("ENV", "development"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		RemoteBaseURL:   getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
		SyncInterval:    getDuration("SYNC_INTERVAL", 30*time.Second),
		BatchSize:       getInt("SYNC_BATCH_SIZE", 5),
		DispatchTimeout: getDuration("SYNC_DISPATCH_TIMEOUT", 10*time.Second),
		InterBatchDelay: getDuration("SYNC_INTER_BATCH_DELAY", 500*time.Millisecond),
		MaxAttempts:     getInt("SYNC_MAX_ATTEMPTS", 3),
		BackoffCap:      getDuration("SYNC_BACKOFF_CAP", 5*time.Minute),
		QueueMaxSize:    getInt("SYNC_QUEUE_MAX_SIZE", 1000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logging.Warn("invalid integer in environment, using default",
			map[string]interface{}{"key": key, "value": v})
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logging.Warn("invalid duration in environment, using default",
			map[string]interface{}{"key": key, "value": v})
	}
	return fallback
}
