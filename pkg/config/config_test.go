package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "featurex.yaml")
	body := `
server:
  listen_addr: ":9090"
  cors_origins:
    - "http://localhost:3000"
storage:
  cache_dir: /var/cache/featurex
downsample:
  single_points: 10000
signal:
  wavelet: sym4
  levels: 6
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/var/cache/featurex", cfg.Storage.CacheDir)
	assert.Equal(t, 10000, cfg.Downsample.SinglePoints)
	assert.Equal(t, "sym4", cfg.Signal.Wavelet)
	assert.Equal(t, 6, cfg.Signal.Levels)

	// Unset fields get defaults.
	assert.Equal(t, 5000, cfg.Downsample.MultiPoints)
	assert.Equal(t, "/tmp/ann_models", cfg.Storage.ModelDir)
	assert.Equal(t, 350, cfg.Training.Epochs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/featurex.yaml")
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
	assert.Equal(t, 15000, cfg.Downsample.SinglePoints)
	assert.Equal(t, "db4", cfg.Signal.Wavelet)
	assert.Equal(t, 20000.0, cfg.Signal.SampleRate)
}
