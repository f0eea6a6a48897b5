package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "ember.toml", cfg.Kernel.ManifestPath)
	assert.Equal(t, 256, cfg.Kernel.EventBuffer)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"EMBER_PORT":               "9000",
		"EMBER_HOST":               "127.0.0.1",
		"EMBER_MANIFEST":           "/etc/ember/tasks.toml",
		"EMBER_EVENT_BUFFER":       "1024",
		"EMBER_LOG_LEVEL":          "debug",
		"EMBER_LOG_DEV":            "true",
		"EMBER_RATE_LIMIT_RPS":     "500",
		"EMBER_RATE_LIMIT_BURST":   "1000",
		"EMBER_RATE_LIMIT_ENABLED": "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "/etc/ember/tasks.toml", cfg.Kernel.ManifestPath)
	assert.Equal(t, 1024, cfg.Kernel.EventBuffer)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}
