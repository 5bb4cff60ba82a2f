// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package encode validates encoder settings against fixed allowlists and
// plans the transcode argv for a source. Argv is always assembled as a
// string slice, never a shell line.
package encode

import (
	"fmt"
	"strings"

	"github.com/ManuGH/ripflow/internal/jobs"
)

// Short-form encoder names and their ffmpeg canonical aliases. Aliases
// normalize to the short form so configuration accepts either spelling.
var videoEncoders = map[string]string{
	"nvenc_h265": "nvenc_h265",
	"nvenc_h264": "nvenc_h264",
	"vaapi_h265": "vaapi_h265",
	"vaapi_h264": "vaapi_h264",
	"amf_h265":   "amf_h265",
	"amf_h264":   "amf_h264",
	"qsv_h265":   "qsv_h265",
	"qsv_h264":   "qsv_h264",
	"x265":       "x265",
	"x264":       "x264",

	"hevc_nvenc": "nvenc_h265",
	"h264_nvenc": "nvenc_h264",
	"hevc_vaapi": "vaapi_h265",
	"h264_vaapi": "vaapi_h264",
	"hevc_amf":   "amf_h265",
	"h264_amf":   "amf_h264",
	"hevc_qsv":   "qsv_h265",
	"h264_qsv":   "qsv_h264",
	"libx265":    "x265",
	"libx264":    "x264",
}

var audioEncoders = map[string]bool{
	"copy": true,
	"aac":  true,
	"ac3":  true,
	"eac3": true,
	"flac": true,
	"mp3":  true,
}

var subtitleModes = map[string]bool{
	"all":   true,
	"none":  true,
	"first": true,
}

// Built-in preset names accepted for the HandBrakeCLI path. Custom names
// pass only when a preset import file is configured alongside them.
var builtinPresets = map[string]bool{
	"Very Fast 2160p60 4K HEVC": true,
	"Very Fast 1080p30":         true,
	"Very Fast 720p30":          true,
	"Fast 2160p60 4K HEVC":      true,
	"Fast 1080p30":              true,
	"Fast 720p30":               true,
	"Fast 480p30":               true,
	"HQ 2160p60 4K HEVC Surround": true,
	"HQ 1080p30 Surround":         true,
	"Super HQ 2160p60 4K HEVC Surround": true,
	"Super HQ 1080p30 Surround":         true,
	"H.265 NVENC 2160p 4K": true,
	"H.265 NVENC 1080p":    true,
	"H.264 NVENC 1080p":    true,
	"NVENC H.265 4K":       true,
	"NVENC H.265 1080p":    true,
	"NVENC H.264 1080p":    true,
}

// NormalizeVideoEncoder maps a configured encoder name to its short form.
func NormalizeVideoEncoder(name string) (string, error) {
	short, ok := videoEncoders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("encode: unknown video encoder %q", name)
	}
	return short, nil
}

// FamilyOf returns the hardware family of a normalized encoder name.
func FamilyOf(encoder string) jobs.Family {
	switch {
	case strings.HasPrefix(encoder, "nvenc_"):
		return jobs.FamilyNVENC
	case strings.HasPrefix(encoder, "vaapi_"):
		return jobs.FamilyVAAPI
	case strings.HasPrefix(encoder, "amf_"):
		return jobs.FamilyAMF
	case strings.HasPrefix(encoder, "qsv_"):
		return jobs.FamilyQSV
	default:
		return jobs.FamilySoftware
	}
}

// Settings is the vetted encoder configuration the planner consumes.
// Validate must pass before Plan is called.
type Settings struct {
	VideoEncoder     string // normalized short form
	VideoQuality     int
	AudioEncoder     string
	SubtitleMode     string
	Preset           string
	Preset4K         string
	PresetImportFile string
	VAAPIDevice      string
	OutputExtension  string

	// Absolute tool paths, resolved once at startup.
	FFmpegPath    string
	HandBrakePath string
}

// Validate checks every tunable against its allowlist and normalizes the
// video encoder in place.
func (s *Settings) Validate() error {
	enc, err := NormalizeVideoEncoder(s.VideoEncoder)
	if err != nil {
		return err
	}
	s.VideoEncoder = enc

	if s.VideoQuality < 0 || s.VideoQuality > 51 {
		return fmt.Errorf("encode: quality %d out of range [0,51]", s.VideoQuality)
	}
	if !audioEncoders[s.AudioEncoder] {
		return fmt.Errorf("encode: unknown audio encoder %q", s.AudioEncoder)
	}
	if !subtitleModes[s.SubtitleMode] {
		return fmt.Errorf("encode: unknown subtitle mode %q", s.SubtitleMode)
	}
	for _, preset := range []string{s.Preset, s.Preset4K} {
		if preset == "" {
			continue
		}
		if !builtinPresets[preset] && s.PresetImportFile == "" {
			return fmt.Errorf("encode: preset %q is not a built-in and no preset file is configured", preset)
		}
	}
	return nil
}
