package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "spark", cfg.Name)
	assert.Len(t, cfg.Providers, 2)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop:
  max_iterations: 7
  timeout: 90s
providers:
  - name: local
    kind: openai-compat
    model: llama-3.1
    base_url: http://localhost:8000/v1
    priority: must
    enabled: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	require.Len(t, cfg.Providers, 1, "file provider list replaces the default list")
	assert.Equal(t, "local", cfg.Providers[0].Name)

	limits := cfg.Loop.Limits()
	assert.Equal(t, 7, limits.MaxIterations)
	assert.Equal(t, 90*time.Second, limits.Timeout)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Validation.RequiredSections)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop: [not a mapping"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "spark.yaml")
	cfg := DefaultConfig()
	cfg.Loop.MaxIterations = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Loop.MaxIterations)
}

func TestCacheConfigConversion(t *testing.T) {
	cc := CacheConfig{TTL: "30m", MaxSizeBytes: 1024, SweepInterval: "10s"}.CacheConfig()
	assert.Equal(t, 30*time.Minute, cc.DefaultTTL)
	assert.Equal(t, int64(1024), cc.MaxSize)
	assert.Equal(t, 10*time.Second, cc.SweepInterval)

	// Empty strings fall back to the cache defaults.
	fallback := CacheConfig{}.CacheConfig()
	assert.Equal(t, time.Hour, fallback.DefaultTTL)
	assert.Equal(t, int64(64<<20), fallback.MaxSize)
}

func TestSessionTTLDuration(t *testing.T) {
	assert.Equal(t, 24*time.Hour, StoreConfig{SessionTTL: "24h"}.SessionTTLDuration())
	assert.Equal(t, time.Duration(0), StoreConfig{}.SessionTTLDuration())
	assert.Equal(t, time.Duration(0), StoreConfig{SessionTTL: "garbage"}.SessionTTLDuration())
}
