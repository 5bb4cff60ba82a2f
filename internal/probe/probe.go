// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package probe inspects media containers and detects the GPU encoder
// surface available on this host.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Resolution is the coarse class driving the planner's filter and preset
// selection.
type Resolution string

const (
	ResolutionUHD Resolution = "uhd"
	ResolutionHD  Resolution = "hd"
	ResolutionSD  Resolution = "sd"
)

// MediaInfo holds the container facts the planner needs.
type MediaInfo struct {
	Width    int
	Height   int
	Duration float64 // seconds
}

// Class returns the resolution class for the probed dimensions.
func (m MediaInfo) Class() Resolution {
	return ClassifyResolution(m.Width, m.Height)
}

// ClassifyResolution maps dimensions to a class. Anything beyond 1080p is
// UHD, anything at or above 720p is HD, the rest is SD.
func ClassifyResolution(width, height int) Resolution {
	switch {
	case width > 1920 || height > 1080:
		return ResolutionUHD
	case width >= 1280 || height >= 720:
		return ResolutionHD
	default:
		return ResolutionSD
	}
}

// Prober shells out to ffprobe.
type Prober struct {
	ffprobe string
	timeout time.Duration
}

// New returns a Prober using the given ffprobe binary path.
func New(ffprobePath string) *Prober {
	return &Prober{ffprobe: ffprobePath, timeout: 30 * time.Second}
}

// ffprobe -of json output shape, reduced to what we read.
type ffprobeOut struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Inspect returns dimensions and duration of the first video stream in path.
// A container without a video stream yields width=height=0, which classifies
// as SD; callers on the audio path never ask.
func (p *Prober) Inspect(ctx context.Context, path string) (MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// #nosec G204 -- binary path resolved once at startup, media path confined
	cmd := exec.CommandContext(ctx, p.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		path)
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("probe: ffprobe %s: %w", path, err)
	}

	var parsed ffprobeOut
	if err := json.Unmarshal(out, &parsed); err != nil {
		return MediaInfo{}, fmt.Errorf("probe: parse ffprobe output: %w", err)
	}

	var info MediaInfo
	if len(parsed.Streams) > 0 {
		info.Width = parsed.Streams[0].Width
		info.Height = parsed.Streams[0].Height
	}
	if d := strings.TrimSpace(parsed.Format.Duration); d != "" {
		if sec, err := strconv.ParseFloat(d, 64); err == nil {
			info.Duration = sec
		}
	}
	return info, nil
}
