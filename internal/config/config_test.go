package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 90, cfg.Extract.StructuredMetaWeight)
	assert.Equal(t, 85, cfg.Extract.PlatformMetaWeight)
	assert.Equal(t, 80, cfg.Extract.LinkedDataWeight)
	assert.Equal(t, 75, cfg.Extract.VisibleElementWeight)
	assert.Equal(t, 70, cfg.Extract.InlineScriptWeight)
	assert.Equal(t, 60, cfg.Extract.FrequencyFallbackWeight)
	assert.InDelta(t, 1000, cfg.Extract.MinorUnitThreshold, 0.001)
	assert.Equal(t, []string{"shopify"}, cfg.Extract.MinorUnitPlatforms)
	assert.InDelta(t, 0.01, cfg.Reconcile.Epsilon, 0.0001)
	assert.Equal(t, 1000, cfg.Reconcile.PolitenessDelayMs)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "interval", cfg.Schedule.Mode)
	assert.Equal(t, 360, cfg.Schedule.IntervalMins)
	assert.Equal(t, "06:00", cfg.Schedule.DailyAt)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/pricesync
reconcile:
  epsilon: 0.05
  politeness_delay_ms: 250
schedule:
  mode: daily
  daily_at: "02:30"
  utc_offset_hours: -5
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/pricesync", cfg.Store.DatabaseURL)
	assert.InDelta(t, 0.05, cfg.Reconcile.Epsilon, 0.0001)
	assert.Equal(t, 250, cfg.Reconcile.PolitenessDelayMs)
	assert.Equal(t, "daily", cfg.Schedule.Mode)
	assert.Equal(t, "02:30", cfg.Schedule.DailyAt)
	assert.Equal(t, -5, cfg.Schedule.UTCOffsetHours)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level", Format: "json"})
	require.Error(t, err)
}
