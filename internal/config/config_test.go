package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "batch" }, "invalid mode"},
		{"no media", func(c *Config) { c.Audio, c.Video = false, false }, "audio or video"},
		{"negative timeout", func(c *Config) { c.NegotiationTimeout = -time.Second }, "timeout"},
		{"negative hold", func(c *Config) { c.HoldDuration = -time.Second }, "hold"},
		{"zero stats interval", func(c *Config) { c.StatsInterval = 0 }, "stats interval"},
		{"control without pin", func(c *Config) { c.ControlAddr = "127.0.0.1:0" }, "PIN"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_AudioOnly(t *testing.T) {
	cfg := Default()
	cfg.Video = false
	assert.NoError(t, cfg.Validate())
}
