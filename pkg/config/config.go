// Package config holds worker and supervisor configuration. Everything is
// read from environment variables; the supervisor sets WORKER_ID and DISPLAY
// for each child it spawns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Waits and bounds that are fixed by the processing model rather than by
// deployment, so they are constants instead of env vars.
const (
	// NoTasksWait is slept when the queue is empty.
	NoTasksWait = 5 * time.Second
	// NoProxiesWait is slept after returning a task because no proxy was free.
	NoProxiesWait = 20 * time.Second
	// CatalogProxyRotationLimit bounds proxy rotations during the initial
	// catalog entry. Mid-traversal rotations are bounded by the traversal's
	// own attempt budget.
	CatalogProxyRotationLimit = 5
	// PageRequestTimeout bounds the coordinator's wait for a page request.
	// Hitting it means the traversal finished.
	PageRequestTimeout = 5 * time.Minute
	// DetailNavTimeout bounds one detail-page navigation.
	DetailNavTimeout = 30 * time.Second
	// LLMTimeout bounds one AI-validation request.
	LLMTimeout = 60 * time.Second
)

// Config is the process-wide configuration for one worker or the supervisor.
type Config struct {
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	NumWorkers  int
	PoolMinSize int
	PoolMaxSize int

	HeartbeatInterval time.Duration
	StuckTaskTimeout  time.Duration
	MaxRetryAttempts  int

	GeminiAPIKey string

	// WorkerID is set by the supervisor (worker_1, worker_2, ...). When a
	// worker is started by hand the fallback is hostname plus a short uuid.
	WorkerID string

	DebugScreenshots bool
	LogLevel         string
	StopwordsFile    string
	OTLPEndpoint     string

	// BrowserDriver selects a registered avito.Driver implementation.
	BrowserDriver string

	// WorkerBin overrides the worker executable path the supervisor spawns.
	WorkerBin string
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnv("DB_NAME", "avitofleet"),
		DBUser:     getEnv("DB_USER", "avitofleet"),
		DBPassword: getEnv("DB_PASSWORD", ""),

		NumWorkers:  getEnvInt("NUM_WORKERS", 15),
		PoolMinSize: getEnvInt("POOL_MIN_SIZE", 2),
		PoolMaxSize: getEnvInt("POOL_MAX_SIZE", 5),

		HeartbeatInterval: getEnvSeconds("HEARTBEAT_INTERVAL", 120),
		StuckTaskTimeout:  getEnvSeconds("STUCK_TASK_TIMEOUT", 3600),
		MaxRetryAttempts:  getEnvInt("MAX_RETRY_ATTEMPTS", 3),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		WorkerID:     getEnv("WORKER_ID", fallbackWorkerID()),

		DebugScreenshots: getEnv("DEBUG_SCREENSHOTS", "false") == "true",
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		StopwordsFile:    getEnv("STOPWORDS_FILE", ""),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		BrowserDriver:    getEnv("BROWSER_DRIVER", "playwright"),
		WorkerBin:        getEnv("WORKER_BIN", ""),
	}
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func fallbackWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}
