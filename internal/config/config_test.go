package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Pricing)
}

func TestLoadParsesPricingOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[log]
level = "debug"
debug = true

[pricing."claude-sonnet-4-5"]
input = 3.0
output = 15.0
cache_read = 0.30
cache_write = 3.75
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Debug)

	rate, ok := cfg.Pricing["claude-sonnet-4-5"]
	require.True(t, ok)
	assert.InDelta(t, 15.0, rate.Output, 0.001)
	assert.InDelta(t, 0.30, rate.CacheRead, 0.001)
}

func TestLoadMalformedFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not toml {{{"), 0o644))

	cfg, err := Load(dir)
	assert.Error(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}
