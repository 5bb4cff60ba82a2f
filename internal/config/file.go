// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so absent keys stay at their
// defaults. stabilize_seconds is plain seconds in the file, not a Go duration.
type fileConfig struct {
	RawPath       *string `yaml:"raw_path"`
	CompletedPath *string `yaml:"completed_path"`
	WorkPath      *string `yaml:"work_path"`
	DBPath        *string `yaml:"db_path"`

	MoviesSubdir *string `yaml:"movies_subdir"`
	TVSubdir     *string `yaml:"tv_subdir"`
	AudioSubdir  *string `yaml:"audio_subdir"`

	VideoEncoder      *string `yaml:"video_encoder"`
	VideoQuality      *int    `yaml:"video_quality"`
	AudioEncoder      *string `yaml:"audio_encoder"`
	SubtitleMode      *string `yaml:"subtitle_mode"`
	HandBrakePreset   *string `yaml:"handbrake_preset"`
	HandBrakePreset4K *string `yaml:"handbrake_preset_4k"`
	HandBrakePresetIn *string `yaml:"handbrake_preset_file"`
	VAAPIDevice       *string `yaml:"vaapi_device"`
	OutputExtension   *string `yaml:"output_extension"`

	MaxConcurrent      *int     `yaml:"max_concurrent"`
	StabilizeSeconds   *int     `yaml:"stabilize_seconds"`
	MaxRetryCount      *int     `yaml:"max_retry_count"`
	MinimumFreeSpaceGB *float64 `yaml:"minimum_free_space_gb"`
	DeleteSource       *bool    `yaml:"delete_source"`

	ListenAddr *string `yaml:"listen_addr"`

	RequireAPIAuth *bool   `yaml:"require_api_auth"`
	APIKeys        *string `yaml:"api_keys"`
	WebhookSecret  *string `yaml:"webhook_secret"`

	LogLevel *string `yaml:"log_level"`
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&cfg.RawPath, fc.RawPath)
	setStr(&cfg.CompletedPath, fc.CompletedPath)
	setStr(&cfg.WorkPath, fc.WorkPath)
	setStr(&cfg.DBPath, fc.DBPath)
	setStr(&cfg.MoviesSubdir, fc.MoviesSubdir)
	setStr(&cfg.TVSubdir, fc.TVSubdir)
	setStr(&cfg.AudioSubdir, fc.AudioSubdir)
	setStr(&cfg.VideoEncoder, fc.VideoEncoder)
	setInt(&cfg.VideoQuality, fc.VideoQuality)
	setStr(&cfg.AudioEncoder, fc.AudioEncoder)
	setStr(&cfg.SubtitleMode, fc.SubtitleMode)
	setStr(&cfg.HandBrakePreset, fc.HandBrakePreset)
	setStr(&cfg.HandBrakePreset4K, fc.HandBrakePreset4K)
	setStr(&cfg.HandBrakePresetIn, fc.HandBrakePresetIn)
	setStr(&cfg.VAAPIDevice, fc.VAAPIDevice)
	setStr(&cfg.OutputExtension, fc.OutputExtension)
	setInt(&cfg.MaxConcurrent, fc.MaxConcurrent)
	if fc.StabilizeSeconds != nil {
		cfg.StabilizeWindow = time.Duration(*fc.StabilizeSeconds) * time.Second
	}
	setInt(&cfg.MaxRetryCount, fc.MaxRetryCount)
	if fc.MinimumFreeSpaceGB != nil {
		cfg.MinimumFreeSpaceGB = *fc.MinimumFreeSpaceGB
	}
	if fc.DeleteSource != nil {
		cfg.DeleteSource = *fc.DeleteSource
	}
	setStr(&cfg.ListenAddr, fc.ListenAddr)
	if fc.RequireAPIAuth != nil {
		cfg.RequireAPIAuth = *fc.RequireAPIAuth
	}
	setStr(&cfg.APIKeys, fc.APIKeys)
	setStr(&cfg.WebhookSecret, fc.WebhookSecret)
	setStr(&cfg.LogLevel, fc.LogLevel)

	return nil
}
