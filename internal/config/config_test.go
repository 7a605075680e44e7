package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/trials.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2010, cfg.AACT.StartYear)
	assert.Equal(t, 10, cfg.Sources.TimeoutSecs)
	assert.Equal(t, 5, cfg.Enrich.CircuitThreshold)
	assert.Equal(t, "low", cfg.Export.MinConfidence)
	assert.Equal(t, 50, cfg.Sources.MinIntervalMs["chembl"])
	assert.Equal(t, 100, cfg.Sources.MinIntervalMs["ctgov"])
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
store:
  path: /tmp/custom.db
log:
  level: debug
  format: console
enrich:
  concurrency: 4
sources:
  min_interval_ms:
    chembl: 200
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Enrich.Concurrency)
	assert.Equal(t, 200, cfg.Sources.MinIntervalMs["chembl"])
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	t.Setenv("TRIALS_STORE_PATH", "/var/data/env.db")
	t.Setenv("TRIALS_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/data/env.db", cfg.Store.Path)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
}

func TestMinIntervals(t *testing.T) {
	src := SourcesConfig{MinIntervalMs: map[string]int{"chembl": 50, "pubmed": 100}}
	intervals := src.MinIntervals()
	assert.Equal(t, 50*time.Millisecond, intervals["chembl"])
	assert.Equal(t, 100*time.Millisecond, intervals["pubmed"])
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
