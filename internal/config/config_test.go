// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("VIDEO_QUALITY", "28")
	t.Setenv("DELETE_SOURCE", "no")
	t.Setenv("STABILIZE_SECONDS", "5")
	t.Setenv("MINIMUM_FREE_SPACE_GB", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 28, cfg.VideoQuality)
	assert.False(t, cfg.DeleteSource)
	assert.Equal(t, 5*time.Second, cfg.StabilizeWindow)
	assert.Equal(t, 2.5, cfg.MinimumFreeSpaceGB)
}

func TestLoadFileBeneathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"video_quality: 30\nsubtitle_mode: first\nstabilize_seconds: 7\n"), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("VIDEO_QUALITY", "18")

	cfg, err := Load()
	require.NoError(t, err)
	// Environment wins over the file; file wins over defaults.
	assert.Equal(t, 18, cfg.VideoQuality)
	assert.Equal(t, "first", cfg.SubtitleMode)
	assert.Equal(t, 7*time.Second, cfg.StabilizeWindow)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty raw path", func(c *Config) { c.RawPath = " " }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"quality too high", func(c *Config) { c.VideoQuality = 52 }},
		{"negative quality", func(c *Config) { c.VideoQuality = -1 }},
		{"retry budget too large", func(c *Config) { c.MaxRetryCount = 11 }},
		{"concurrency above one", func(c *Config) { c.MaxConcurrent = 2 }},
		{"zero stabilize window", func(c *Config) { c.StabilizeWindow = 0 }},
		{"negative reserve", func(c *Config) { c.MinimumFreeSpaceGB = -1 }},
		{"unknown subtitle mode", func(c *Config) { c.SubtitleMode = "some" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseBool(t *testing.T) {
	t.Setenv("X_TRUE", "Yes")
	t.Setenv("X_FALSE", "0")
	t.Setenv("X_BAD", "maybe")

	assert.True(t, ParseBool("X_TRUE", false))
	assert.False(t, ParseBool("X_FALSE", true))
	assert.True(t, ParseBool("X_BAD", true))
	assert.False(t, ParseBool("X_UNSET", false))
}

func TestParseIntFallsBack(t *testing.T) {
	t.Setenv("X_INT", "41")
	t.Setenv("X_NOT_INT", "forty")

	assert.Equal(t, 41, ParseInt("X_INT", 7))
	assert.Equal(t, 7, ParseInt("X_NOT_INT", 7))
	assert.Equal(t, 7, ParseInt("X_INT_UNSET", 7))
}
