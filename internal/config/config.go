package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names. The embedding provider selection variables
// live in the embedder package; everything else is listed here.
const (
	EnvDBPath             = "CODEGRAPH_DB_PATH"
	EnvWorkers            = "CODEGRAPH_WORKERS"
	EnvEmbedBatchSize     = "CODEGRAPH_EMBED_BATCH_SIZE"
	EnvOnEmbeddingFailure = "CODEGRAPH_ON_EMBEDDING_FAILURE"
	EnvLogLevel           = "CODEGRAPH_LOG_LEVEL"
)

// Config holds process-level settings read from the environment.
type Config struct {
	DBPath             string
	Workers            int
	EmbedBatchSize     int
	OnEmbeddingFailure string // "abort" or "skip"
	LogLevel           string // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables with defaults for
// everything optional. A .env file in the working directory or any
// parent (up to the project root) is loaded first; real environment
// variables take precedence over .env values.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		DBPath:             getEnv(EnvDBPath, defaultDBPath()),
		OnEmbeddingFailure: getEnv(EnvOnEmbeddingFailure, "abort"),
		LogLevel:           getEnv(EnvLogLevel, "info"),
	}

	var err error
	if cfg.Workers, err = getEnvInt(EnvWorkers, 0); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize, err = getEnvInt(EnvEmbedBatchSize, 0); err != nil {
		return nil, err
	}

	switch cfg.OnEmbeddingFailure {
	case "abort", "skip":
	default:
		return nil, fmt.Errorf("%s must be \"abort\" or \"skip\", got %q", EnvOnEmbeddingFailure, cfg.OnEmbeddingFailure)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return cfg, nil
}

// loadDotEnv walks from the working directory upward looking for a .env
// file, the same way the process would be started from a subdirectory
// of the project.
func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data/codegraph.db"
	}
	return filepath.Join(home, ".codegraph", "codegraph.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}
