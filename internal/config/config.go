package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "flux.db"
	defaultTaskConcurrency = 3
	defaultTaskTimeout     = 30 * time.Second

	envListenAddr      = "FLUX_LISTEN_ADDR"
	envDBPath          = "FLUX_DB_PATH"
	envLogLevel        = "FLUX_LOG_LEVEL"
	envUnitsRootPath   = "FLUX_DEPLOYMENT_UNITS_PATH"
	envTaskConcurrency = "FLUX_TASK_CONCURRENCY"
	envTaskTimeoutMS   = "FLUX_TASK_TIMEOUT_MS"
	envPreloadUnits    = "FLUX_PRELOAD_UNITS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// UnitsRootPath is the directory scanned for deployment units. Empty
	// disables the unit store.
	UnitsRootPath string

	// TaskConcurrency is the pool size given to every task id of a loaded unit.
	TaskConcurrency int

	// TaskTimeout bounds invocations whose tag declares no timeout.
	TaskTimeout time.Duration

	// PreloadUnits loads every scanned unit at startup.
	PreloadUnits bool
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numbers fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		TaskConcurrency: defaultTaskConcurrency,
		TaskTimeout:     defaultTaskTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.UnitsRootPath = os.Getenv(envUnitsRootPath)
	if n, ok := positiveInt(os.Getenv(envTaskConcurrency)); ok {
		cfg.TaskConcurrency = n
	}
	if n, ok := positiveInt(os.Getenv(envTaskTimeoutMS)); ok {
		cfg.TaskTimeout = time.Duration(n) * time.Millisecond
	}
	if b, err := strconv.ParseBool(os.Getenv(envPreloadUnits)); err == nil {
		cfg.PreloadUnits = b
	}

	return cfg
}

func positiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
