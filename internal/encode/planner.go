// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"fmt"
	"strconv"

	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/probe"
)

// Tool selects the transcode binary.
type Tool string

const (
	ToolFFmpeg    Tool = "ffmpeg"
	ToolHandBrake Tool = "handbrake"
)

// Plan is a fully assembled transcode invocation for one source file.
type Plan struct {
	Tool       Tool
	Argv       []string
	Family     jobs.Family
	Resolution probe.Resolution
}

// Planner turns (settings, capabilities, source facts) into argv.
type Planner struct {
	settings Settings
	caps     probe.Capabilities

	// FellBack is set when the configured family is unavailable on this
	// host and the planner downgraded to software x265.
	FellBack bool
}

// NewPlanner validates the settings and resolves the effective encoder.
// When the configured hardware family is not detected the planner falls
// back to software x265; the caller records the downgrade on the job.
func NewPlanner(s Settings, caps probe.Capabilities) (*Planner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{settings: s, caps: caps}
	if !caps.Supports(FamilyOf(s.VideoEncoder)) {
		p.settings.VideoEncoder = "x265"
		p.FellBack = true
	}
	return p, nil
}

// Encoder returns the effective normalized encoder name.
func (p *Planner) Encoder() string { return p.settings.VideoEncoder }

// Family returns the effective encoder family.
func (p *Planner) Family() jobs.Family { return FamilyOf(p.settings.VideoEncoder) }

// Plan assembles the argv for one source file. HandBrakeCLI is chosen only
// on the NVENC path when the host HandBrake has NVENC and a preset is
// configured; every other combination runs ffmpeg.
func (p *Planner) Plan(source, output string, info probe.MediaInfo) (*Plan, error) {
	family := p.Family()
	res := info.Class()

	if family == jobs.FamilyNVENC && p.caps.HandBrakeNVENC && p.settings.Preset != "" {
		return &Plan{
			Tool:       ToolHandBrake,
			Argv:       p.handbrakeArgv(source, output, res),
			Family:     family,
			Resolution: res,
		}, nil
	}
	argv, err := p.ffmpegArgv(source, output, family, res)
	if err != nil {
		return nil, err
	}
	return &Plan{Tool: ToolFFmpeg, Argv: argv, Family: family, Resolution: res}, nil
}

func (p *Planner) handbrakeArgv(source, output string, res probe.Resolution) []string {
	s := p.settings
	argv := []string{
		s.HandBrakePath,
		"-i", source,
		"-o", output,
		"--encoder", s.VideoEncoder,
		"-q", strconv.Itoa(s.VideoQuality),
	}
	if s.PresetImportFile != "" {
		argv = append(argv, "--preset-import-file", s.PresetImportFile)
	}
	preset := s.Preset
	if res == probe.ResolutionUHD && s.Preset4K != "" {
		preset = s.Preset4K
	}
	argv = append(argv, "--preset", preset)
	argv = append(argv, "--aencoder", s.AudioEncoder)
	switch s.SubtitleMode {
	case "all":
		argv = append(argv, "--all-subtitles")
	case "first":
		argv = append(argv, "--subtitle", "1")
	}
	return argv
}

// ffmpeg canonical encoder names by short form.
var ffmpegEncoderNames = map[string]string{
	"nvenc_h265": "hevc_nvenc",
	"nvenc_h264": "h264_nvenc",
	"vaapi_h265": "hevc_vaapi",
	"vaapi_h264": "h264_vaapi",
	"amf_h265":   "hevc_amf",
	"amf_h264":   "h264_amf",
	"qsv_h265":   "hevc_qsv",
	"qsv_h264":   "h264_qsv",
	"x265":       "libx265",
	"x264":       "libx264",
}

// SD sources are upscaled to 720p with the family's native filter. AMF has
// no scaler of its own, so it shares the software filter.
var upscaleFilters = map[jobs.Family]string{
	jobs.FamilyNVENC:    "scale_cuda=1280:720",
	jobs.FamilyVAAPI:    "scale_vaapi=w=1280:h=720",
	jobs.FamilyQSV:      "vpp_qsv=w=1280:h=720",
	jobs.FamilyAMF:      "scale=1280:720",
	jobs.FamilySoftware: "scale=1280:720",
}

func (p *Planner) ffmpegArgv(source, output string, family jobs.Family, res probe.Resolution) ([]string, error) {
	s := p.settings
	encoder, ok := ffmpegEncoderNames[s.VideoEncoder]
	if !ok {
		return nil, fmt.Errorf("encode: no ffmpeg encoder for %q", s.VideoEncoder)
	}

	argv := []string{s.FFmpegPath, "-y"}

	switch family {
	case jobs.FamilyNVENC:
		argv = append(argv, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	case jobs.FamilyVAAPI:
		argv = append(argv, "-hwaccel", "vaapi", "-hwaccel_device", s.VAAPIDevice, "-hwaccel_output_format", "vaapi")
	case jobs.FamilyQSV:
		argv = append(argv, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
	}

	argv = append(argv, "-i", source)
	argv = append(argv, "-map", "0:v:0", "-map", "0:a?")
	switch s.SubtitleMode {
	case "all":
		argv = append(argv, "-map", "0:s?")
	case "first":
		argv = append(argv, "-map", "0:s:0?")
	}

	argv = append(argv, "-c:v", encoder)

	q := strconv.Itoa(s.VideoQuality)
	switch family {
	case jobs.FamilyNVENC:
		argv = append(argv, "-preset", "p4", "-cq", q, "-b:v", "0")
	case jobs.FamilyVAAPI:
		argv = append(argv, "-rc_mode", "CQP", "-qp", q)
	case jobs.FamilyAMF:
		argv = append(argv, "-rc", "cqp", "-qp_i", q, "-qp_p", q)
	case jobs.FamilyQSV:
		argv = append(argv, "-global_quality", q)
	case jobs.FamilySoftware:
		argv = append(argv, "-crf", q, "-preset", "medium")
	}

	if res == probe.ResolutionSD {
		argv = append(argv, "-vf", upscaleFilters[family])
	}

	switch s.SubtitleMode {
	case "none":
		argv = append(argv, "-sn")
	default:
		argv = append(argv, "-c:s", "copy")
	}

	if s.AudioEncoder == "copy" {
		argv = append(argv, "-c:a", "copy")
	} else {
		argv = append(argv, "-c:a", s.AudioEncoder, "-b:a", "192k")
	}

	argv = append(argv, output)
	return argv, nil
}
