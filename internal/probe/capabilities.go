// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
)

// Capabilities records which encoder backends this host can actually drive.
// Detection runs once at startup; the result is advisory, the worker falls
// back to software when the configured family is missing.
type Capabilities struct {
	HandBrakeNVENC  bool      `json:"handbrake_nvenc"`
	FFmpegNVENCH265 bool      `json:"ffmpeg_nvenc_h265"`
	FFmpegNVENCH264 bool      `json:"ffmpeg_nvenc_h264"`
	FFmpegVAAPIH265 bool      `json:"ffmpeg_vaapi_h265"`
	FFmpegVAAPIH264 bool      `json:"ffmpeg_vaapi_h264"`
	FFmpegAMFH265   bool      `json:"ffmpeg_amf_h265"`
	FFmpegAMFH264   bool      `json:"ffmpeg_amf_h264"`
	FFmpegQSVH265   bool      `json:"ffmpeg_qsv_h265"`
	FFmpegQSVH264   bool      `json:"ffmpeg_qsv_h264"`
	RenderDevice    bool      `json:"render_device"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Supports reports whether the host has any backend for the given family.
// Software is always supported.
func (c Capabilities) Supports(family jobs.Family) bool {
	switch family {
	case jobs.FamilyNVENC:
		return c.HandBrakeNVENC || c.FFmpegNVENCH265 || c.FFmpegNVENCH264
	case jobs.FamilyVAAPI, jobs.FamilyQSV:
		return c.RenderDevice
	case jobs.FamilyAMF:
		return true
	case jobs.FamilySoftware:
		return true
	}
	return false
}

// Detect probes ffmpeg, HandBrakeCLI and the render device node. Probe
// failures degrade to "not available" rather than erroring: a missing
// binary simply means that backend is off the table.
func Detect(ctx context.Context, ffmpegPath, handbrakePath, renderDevice string) Capabilities {
	logger := log.WithComponent("probe")
	caps := Capabilities{DetectedAt: time.Now().UTC()}

	if out, err := runProbe(ctx, handbrakePath, "--help"); err == nil {
		caps.HandBrakeNVENC = strings.Contains(strings.ToLower(out), "nvenc")
	} else {
		logger.Debug().Err(err).Str("tool", handbrakePath).Msg("handbrake probe failed")
	}

	if out, err := runProbe(ctx, ffmpegPath, "-encoders"); err == nil {
		caps.FFmpegNVENCH265 = strings.Contains(out, "hevc_nvenc")
		caps.FFmpegNVENCH264 = strings.Contains(out, "h264_nvenc")
		caps.FFmpegVAAPIH265 = strings.Contains(out, "hevc_vaapi")
		caps.FFmpegVAAPIH264 = strings.Contains(out, "h264_vaapi")
		caps.FFmpegAMFH265 = strings.Contains(out, "hevc_amf")
		caps.FFmpegAMFH264 = strings.Contains(out, "h264_amf")
		caps.FFmpegQSVH265 = strings.Contains(out, "hevc_qsv")
		caps.FFmpegQSVH264 = strings.Contains(out, "h264_qsv")
	} else {
		logger.Debug().Err(err).Str("tool", ffmpegPath).Msg("ffmpeg encoder probe failed")
	}

	if _, err := os.Stat(renderDevice); err == nil {
		caps.RenderDevice = true
	}

	logger.Info().
		Bool("handbrake_nvenc", caps.HandBrakeNVENC).
		Bool("ffmpeg_nvenc", caps.FFmpegNVENCH265 || caps.FFmpegNVENCH264).
		Bool("render_device", caps.RenderDevice).
		Msg("encoder capabilities detected")
	return caps
}

func runProbe(ctx context.Context, bin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// #nosec G204 -- binary paths come from startup configuration
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	// HandBrakeCLI --help exits non-zero on some builds; the text still
	// tells us what we need.
	if err != nil && len(out) == 0 {
		return "", err
	}
	return string(out), nil
}

// WriteCache persists the detection result as JSON for operators to inspect.
// The write is atomic so a crash never leaves a torn file.
func (c Capabilities) WriteCache(path string) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("probe: create pending cache: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("probe: encode cache: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("probe: replace cache: %w", err)
	}
	return nil
}
