package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nicktill/perfwatch/pkg/analytics"
	"github.com/nicktill/perfwatch/pkg/config"
	"github.com/nicktill/perfwatch/pkg/ingest"
	"github.com/nicktill/perfwatch/pkg/logger"
	"github.com/nicktill/perfwatch/pkg/storage"
	"github.com/nicktill/perfwatch/pkg/storage/badger"
	"github.com/nicktill/perfwatch/pkg/storage/memory"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config holds server configuration.
type Config struct {
	Port              string
	LogLevel          zapcore.Level
	StoreBackend      string
	MaxEntries        int
	BadgerMaxMemoryMB int64

	// AllowedOrigins restricts CORS and the alert stream (empty = "*")
	AllowedOrigins []string
}

// LoadEnvFile loads environment variables from a .env file. An empty path
// means ./.env. It returns false when there is no file to load; variables
// already set in the environment are never overridden.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return true, nil
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:         getEnv("PORT", config.DefaultPort),
		StoreBackend: strings.ToLower(getEnv("PERFWATCH_STORE", config.DefaultStoreBackend)),
	}

	level, err := logger.ParseLogLevel(getEnv("PERFWATCH_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	maxEntries, err := getEnvInt64("PERFWATCH_MAX_ENTRIES", 0)
	if err != nil {
		return Config{}, err
	}
	if maxEntries < 0 {
		return Config{}, fmt.Errorf("PERFWATCH_MAX_ENTRIES must not be negative, got %d", maxEntries)
	}
	cfg.MaxEntries = int(maxEntries)

	cfg.BadgerMaxMemoryMB, err = getEnvInt64("PERFWATCH_BADGER_MAX_MEMORY_MB", config.DefaultBadgerMaxMemoryMB)
	if err != nil {
		return Config{}, err
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendBadger:
	default:
		return Config{}, fmt.Errorf("unknown PERFWATCH_STORE %q (want %q or %q)", cfg.StoreBackend, BackendMemory, BackendBadger)
	}

	for _, origin := range strings.Split(os.Getenv("PERFWATCH_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg, nil
}

// InitializeStore opens the configured store backend.
func InitializeStore(cfg Config, log *zap.SugaredLogger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case BackendBadger:
		store, err := badger.New(badger.Config{
			MaxMemoryMB: cfg.BadgerMaxMemoryMB,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		log.Infow("BadgerDB in-memory store initialized", "max_memory_mb", cfg.BadgerMaxMemoryMB)
		return store, nil
	default:
		log.Infow("Memory store initialized", "max_entries", cfg.MaxEntries)
		return memory.New(memory.Config{MaxEntries: cfg.MaxEntries}), nil
	}
}

// Handlers groups the HTTP handlers the router serves.
type Handlers struct {
	Ingest    *ingest.Handler
	Analytics *analytics.Handler
	Hub       *ingest.AlertHub
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(cfg Config, store storage.Store, log *zap.SugaredLogger) Handlers {
	// Create WebSocket hub for live alerts
	hub := ingest.NewAlertHub(log.Named("stream"), cfg.AllowedOrigins)

	ingestHandler := ingest.NewHandler(store,
		ingest.WithLogger(log.Named("ingest")),
		ingest.WithNotifier(hub),
	)
	log.Debug("Ingest handler created with cardinality protection")

	analyticsHandler := analytics.NewHandler(store, log.Named("analytics"))

	return Handlers{
		Ingest:    ingestHandler,
		Analytics: analyticsHandler,
		Hub:       hub,
	}
}

// getEnv gets a string from environment variable or returns default.
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", key, val)
	}
	return parsed, nil
}
