// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads daemon configuration from the environment, with an
// optional YAML file (CONFIG_FILE) merged beneath it. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures every tunable of the transcode daemon.
type Config struct {
	// Paths
	RawPath       string `yaml:"raw_path"`
	CompletedPath string `yaml:"completed_path"`
	WorkPath      string `yaml:"work_path"`
	DBPath        string `yaml:"db_path"`

	// Output classification subdirectories
	MoviesSubdir string `yaml:"movies_subdir"`
	TVSubdir     string `yaml:"tv_subdir"`
	AudioSubdir  string `yaml:"audio_subdir"`

	// Encoding
	VideoEncoder      string `yaml:"video_encoder"`
	VideoQuality      int    `yaml:"video_quality"`
	AudioEncoder      string `yaml:"audio_encoder"`
	SubtitleMode      string `yaml:"subtitle_mode"`
	HandBrakePreset   string `yaml:"handbrake_preset"`
	HandBrakePreset4K string `yaml:"handbrake_preset_4k"`
	HandBrakePresetIn string `yaml:"handbrake_preset_file"`
	VAAPIDevice       string `yaml:"vaapi_device"`
	OutputExtension   string `yaml:"output_extension"`

	// Runtime
	MaxConcurrent      int           `yaml:"max_concurrent"`
	StabilizeWindow    time.Duration `yaml:"stabilize_seconds"`
	MaxRetryCount      int           `yaml:"max_retry_count"`
	MinimumFreeSpaceGB float64       `yaml:"minimum_free_space_gb"`
	DeleteSource       bool          `yaml:"delete_source"`

	// HTTP
	ListenAddr string `yaml:"listen_addr"`

	// Auth
	RequireAPIAuth bool   `yaml:"require_api_auth"`
	APIKeys        string `yaml:"api_keys"`
	WebhookSecret  string `yaml:"webhook_secret"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RawPath:            "/data/raw",
		CompletedPath:      "/data/completed",
		WorkPath:           "/data/work",
		DBPath:             "/data/db/ripflow.db",
		MoviesSubdir:       "movies",
		TVSubdir:           "tv",
		AudioSubdir:        "audio",
		VideoEncoder:       "nvenc_h265",
		VideoQuality:       22,
		AudioEncoder:       "copy",
		SubtitleMode:       "all",
		HandBrakePreset:    "NVENC H.265 1080p",
		HandBrakePreset4K:  "NVENC H.265 4K",
		VAAPIDevice:        "/dev/dri/renderD128",
		OutputExtension:    "mkv",
		MaxConcurrent:      1,
		StabilizeWindow:    60 * time.Second,
		MaxRetryCount:      3,
		MinimumFreeSpaceGB: 10,
		DeleteSource:       true,
		ListenAddr:         ":8080",
		RequireAPIAuth:     true,
		LogLevel:           "info",
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then the environment.
func Load() (Config, error) {
	cfg := Defaults()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		if err := mergeFile(&cfg, file); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", file, err)
		}
	}

	cfg.RawPath = ParseString("RAW_PATH", cfg.RawPath)
	cfg.CompletedPath = ParseString("COMPLETED_PATH", cfg.CompletedPath)
	cfg.WorkPath = ParseString("WORK_PATH", cfg.WorkPath)
	cfg.DBPath = ParseString("DB_PATH", cfg.DBPath)

	cfg.MoviesSubdir = ParseString("MOVIES_SUBDIR", cfg.MoviesSubdir)
	cfg.TVSubdir = ParseString("TV_SUBDIR", cfg.TVSubdir)
	cfg.AudioSubdir = ParseString("AUDIO_SUBDIR", cfg.AudioSubdir)

	cfg.VideoEncoder = ParseString("VIDEO_ENCODER", cfg.VideoEncoder)
	cfg.VideoQuality = ParseInt("VIDEO_QUALITY", cfg.VideoQuality)
	cfg.AudioEncoder = ParseString("AUDIO_ENCODER", cfg.AudioEncoder)
	cfg.SubtitleMode = ParseString("SUBTITLE_MODE", cfg.SubtitleMode)
	cfg.HandBrakePreset = ParseString("HANDBRAKE_PRESET", cfg.HandBrakePreset)
	cfg.HandBrakePreset4K = ParseString("HANDBRAKE_PRESET_4K", cfg.HandBrakePreset4K)
	cfg.HandBrakePresetIn = ParseString("HANDBRAKE_PRESET_FILE", cfg.HandBrakePresetIn)
	cfg.VAAPIDevice = ParseString("VAAPI_DEVICE", cfg.VAAPIDevice)
	cfg.OutputExtension = ParseString("OUTPUT_EXTENSION", cfg.OutputExtension)

	cfg.MaxConcurrent = ParseInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.StabilizeWindow = time.Duration(ParseInt("STABILIZE_SECONDS", int(cfg.StabilizeWindow/time.Second))) * time.Second
	cfg.MaxRetryCount = ParseInt("MAX_RETRY_COUNT", cfg.MaxRetryCount)
	cfg.MinimumFreeSpaceGB = ParseFloat("MINIMUM_FREE_SPACE_GB", cfg.MinimumFreeSpaceGB)
	cfg.DeleteSource = ParseBool("DELETE_SOURCE", cfg.DeleteSource)

	cfg.ListenAddr = ParseString("LISTEN_ADDR", cfg.ListenAddr)

	cfg.RequireAPIAuth = ParseBool("REQUIRE_API_AUTH", cfg.RequireAPIAuth)
	cfg.APIKeys = ParseString("API_KEYS", cfg.APIKeys)
	cfg.WebhookSecret = ParseString("WEBHOOK_SECRET", cfg.WebhookSecret)

	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that can never work.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"RAW_PATH":       c.RawPath,
		"COMPLETED_PATH": c.CompletedPath,
		"WORK_PATH":      c.WorkPath,
		"DB_PATH":        c.DBPath,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("config: %s must not be empty", name)
		}
	}
	if c.VideoQuality < 0 || c.VideoQuality > 51 {
		return fmt.Errorf("config: VIDEO_QUALITY %d out of range [0,51]", c.VideoQuality)
	}
	if c.MaxRetryCount < 0 || c.MaxRetryCount > 10 {
		return fmt.Errorf("config: MAX_RETRY_COUNT %d out of range [0,10]", c.MaxRetryCount)
	}
	if c.MaxConcurrent != 1 {
		// Single GPU, single worker.
		return fmt.Errorf("config: MAX_CONCURRENT must be 1, got %d", c.MaxConcurrent)
	}
	if c.StabilizeWindow <= 0 {
		return fmt.Errorf("config: STABILIZE_SECONDS must be positive")
	}
	if c.MinimumFreeSpaceGB < 0 {
		return fmt.Errorf("config: MINIMUM_FREE_SPACE_GB must not be negative")
	}
	switch c.SubtitleMode {
	case "all", "none", "first":
	default:
		return fmt.Errorf("config: SUBTITLE_MODE %q invalid (all, none, first)", c.SubtitleMode)
	}
	return nil
}
