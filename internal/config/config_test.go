package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, ProviderGoogle, cfg.Calendar.Provider)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
	assert.Equal(t, 365, cfg.Calendar.ICSHorizonDays)
	assert.Empty(t, cfg.Calendar.TokenFile)

	assert.Equal(t, "https://api.10000ft.com/api/v1", cfg.Tenk.BaseURL)
	assert.Equal(t, 1000, cfg.Tenk.PerPage)
	assert.Empty(t, cfg.Tenk.APIKey)

	assert.Equal(t, 2500, cfg.Sync.PageSize)
	assert.Equal(t, 1000, cfg.Sync.MaxPages)
	assert.Equal(t, "-", cfg.Sync.TitleDelimiter)
	assert.Equal(t, "@every 15m", cfg.Sync.Schedule)
	assert.Equal(t, "30s", cfg.Sync.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Empty(t, cfg.Logging.LogFile)

	assert.Equal(t, "10s", cfg.Network.ConnectTimeout)
	assert.Equal(t, "60s", cfg.Network.DataTimeout)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}
