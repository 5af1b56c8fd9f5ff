package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithEnv(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_MissingCredentialsIsFatal(t *testing.T) {
	_, err := loadWithEnv(t, nil)
	require.Error(t, err, "telegram credentials are required at startup")
}

func TestLoad_EnvOverridesAndDefaults(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"CLOCK_TELEGRAM_TOKEN":   "123:abc",
		"CLOCK_TELEGRAM_CHANNEL": "dooms_deal_clock",
		"CLOCK_LOG_LEVEL":        "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "dooms_deal_clock", cfg.Telegram.Channel)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, DefaultDBPath, cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultFetchLimit, cfg.Fetch.Limit)
	assert.Equal(t, DefaultFetchInterval, cfg.Fetch.Interval)
	assert.True(t, cfg.Fetch.Background)
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	_, err := loadWithEnv(t, map[string]string{
		"CLOCK_TELEGRAM_TOKEN":   "123:abc",
		"CLOCK_TELEGRAM_CHANNEL": "dooms_deal_clock",
		"CLOCK_LOG_LEVEL":        "loud",
	})
	assert.Error(t, err)
}
