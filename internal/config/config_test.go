package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "deepseek-chat", cfg.LLM.ChatModel)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 8*time.Second, cfg.Bridge.DefaultTimeout)
	assert.Equal(t, "Asia/Hong_Kong", cfg.Venue.Timezone)
	assert.Equal(t, "6", cfg.Venue.RoomIDs["Group Study Room 1"])
	assert.Equal(t, "18", cfg.Venue.RoomIDs["ISR 1"])
	assert.Equal(t, 15, cfg.Scanner.AcceptThreshold)
	assert.Equal(t, 5, cfg.Agent.MaxSteps)
	assert.Equal(t, "memory", cfg.Memory.Backend)
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "max steps must be positive",
			mutate:  func(cfg *Config) { cfg.Agent.MaxSteps = 0 },
			wantErr: "agent.max_steps",
		},
		{
			name:    "scan attempts must be positive",
			mutate:  func(cfg *Config) { cfg.Agent.ScanAttempts = -1 },
			wantErr: "agent.scan_attempts",
		},
		{
			name: "floor above accept threshold",
			mutate: func(cfg *Config) {
				cfg.Scanner.FloorThreshold = cfg.Scanner.AcceptThreshold + 1
			},
			wantErr: "scanner.floor_threshold",
		},
		{
			name:    "default url required",
			mutate:  func(cfg *Config) { cfg.Venue.DefaultURL = "" },
			wantErr: "venue.default_url",
		},
		{
			name:    "timezone must parse",
			mutate:  func(cfg *Config) { cfg.Venue.Timezone = "Mars/Olympus_Mons" },
			wantErr: "venue.timezone",
		},
		{
			name:    "unknown memory backend",
			mutate:  func(cfg *Config) { cfg.Memory.Backend = "etcd" },
			wantErr: "memory.backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlCfg := []byte(`
logger:
  level: debug
llm:
  chat_model: deepseek-reasoner
  api_timeout: 90s
agent:
  max_steps: 7
venue:
  timezone: Asia/Shanghai
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlCfg)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	// Explicit values override defaults.
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "deepseek-reasoner", cfg.LLM.ChatModel)
	assert.Equal(t, 90*time.Second, cfg.LLM.APITimeout)
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, "Asia/Shanghai", cfg.Venue.Timezone)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://sys01.lib.hkbu.edu.hk/room_bookings/1/", cfg.Venue.DefaultURL)
	assert.Equal(t, 15, cfg.Scanner.AcceptThreshold)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	yamlCfg := []byte(`
venue:
  default_url: ""
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlCfg)))

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue.default_url")
}

func TestVenueLocation(t *testing.T) {
	cfg := NewDefaultConfig()
	loc := cfg.Venue.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Asia/Hong_Kong", loc.String())
}
