package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvDBPath, filepath.Join(t.TempDir(), "graph.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Workers)
	assert.Zero(t, cfg.EmbedBatchSize)
	assert.Equal(t, "abort", cfg.OnEmbeddingFailure)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvDBPath, filepath.Join(t.TempDir(), "graph.db"))
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvEmbedBatchSize, "25")
	t.Setenv(EnvOnEmbeddingFailure, "skip")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 25, cfg.EmbedBatchSize)
	assert.Equal(t, "skip", cfg.OnEmbeddingFailure)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv(EnvDBPath, filepath.Join(t.TempDir(), "graph.db"))

	t.Setenv(EnvWorkers, "not-a-number")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv(EnvWorkers, "")

	t.Setenv(EnvOnEmbeddingFailure, "retry")
	_, err = Load()
	assert.Error(t, err)
}
