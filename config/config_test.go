package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	// Test case 1: Environment variable is set
	t.Setenv("TEST_ENV_VAR", "test_value")
	value := GetEnv("TEST_ENV_VAR", "default_value")
	if value != "test_value" {
		t.Errorf("Expected 'test_value', but got '%s'", value)
	}

	// Test case 2: Environment variable is not set, should return default value
	value = GetEnv("NON_EXISTENT_VAR", "default_value")
	if value != "default_value" {
		t.Errorf("Expected 'default_value', but got '%s'", value)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sample_analytics", cfg.SourceDB)
	assert.Equal(t, "sample_analytics", cfg.SinkDB)
	assert.Equal(t, "asp_demo", cfg.Tag)
	assert.Equal(t, int64(990001), cfg.AccountID)
	assert.Equal(t, []string{"ACME", "ZZZ"}, cfg.Symbols)
	assert.Equal(t, 15*time.Second, cfg.SettleTimeout)
	assert.Equal(t, time.Second, cfg.SettleInterval)
	assert.Equal(t, int64(5), cfg.VerifyLimit)
	assert.Equal(t, "count", cfg.StatsCountField)
	assert.Equal(t, time.Minute, cfg.StatsWindow)
	assert.False(t, cfg.EnsureIndexes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VIEWCHECK_MONGO_SINK_DB", "views")
	t.Setenv("VIEWCHECK_FIXTURE_ACCOUNT_ID", "990002")
	t.Setenv("VIEWCHECK_SETTLE_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "views", cfg.SinkDB)
	assert.Equal(t, int64(990002), cfg.AccountID)
	assert.Equal(t, 45*time.Second, cfg.SettleTimeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewcheck.yaml")
	body := []byte("fixture:\n  tag: nightly\nsettle:\n  fixed: true\n  timeout: 10s\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Tag)
	assert.True(t, cfg.SettleFixed)
	assert.Equal(t, 10*time.Second, cfg.SettleTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		SourceDB:       "src",
		SinkDB:         "sink",
		Tag:            "t",
		AccountID:      1,
		Symbols:        []string{"ACME"},
		SettleTimeout:  time.Second,
		SettleInterval: time.Second,
		VerifyLimit:    5,
		StatsWindow:    time.Minute,
	}
	require.NoError(t, base.Validate())

	noTag := base
	noTag.Tag = ""
	assert.Error(t, noTag.Validate())

	badAccount := base
	badAccount.AccountID = 0
	assert.Error(t, badAccount.Validate())

	fixedNoInterval := base
	fixedNoInterval.SettleFixed = true
	fixedNoInterval.SettleInterval = 0
	assert.NoError(t, fixedNoInterval.Validate())

	pollNoInterval := base
	pollNoInterval.SettleInterval = 0
	assert.Error(t, pollNoInterval.Validate())

	noWindow := base
	noWindow.StatsWindow = 0
	assert.Error(t, noWindow.Validate())
}
