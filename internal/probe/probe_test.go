// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package probe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ripflow/internal/jobs"
)

func TestClassifyResolution(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		want   Resolution
	}{
		{"uhd 2160p", 3840, 2160, ResolutionUHD},
		{"uhd wide", 2560, 1080, ResolutionUHD},
		{"uhd tall", 1920, 1200, ResolutionUHD},
		{"full hd", 1920, 1080, ResolutionHD},
		{"720p", 1280, 720, ResolutionHD},
		{"720 height only", 1000, 720, ResolutionHD},
		{"dvd pal", 720, 576, ResolutionSD},
		{"dvd ntsc", 720, 480, ResolutionSD},
		{"no video stream", 0, 0, ResolutionSD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyResolution(tt.width, tt.height))
		})
	}
}

func TestInspectParsesFfprobeJSON(t *testing.T) {
	var parsed ffprobeOut
	raw := `{"streams":[{"width":1920,"height":1080}],"format":{"duration":"7200.125000"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))
	assert.Equal(t, 1920, parsed.Streams[0].Width)
	assert.Equal(t, 1080, parsed.Streams[0].Height)
	assert.Equal(t, "7200.125000", parsed.Format.Duration)
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{FFmpegNVENCH265: true, RenderDevice: false}
	assert.True(t, caps.Supports(jobs.FamilyNVENC))
	assert.False(t, caps.Supports(jobs.FamilyVAAPI))
	assert.False(t, caps.Supports(jobs.FamilyQSV))
	assert.True(t, caps.Supports(jobs.FamilyAMF))
	assert.True(t, caps.Supports(jobs.FamilySoftware))

	caps.RenderDevice = true
	assert.True(t, caps.Supports(jobs.FamilyVAAPI))
	assert.True(t, caps.Supports(jobs.FamilyQSV))
}

func TestWriteCacheAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.json")
	caps := Capabilities{HandBrakeNVENC: true, DetectedAt: time.Now().UTC()}

	require.NoError(t, caps.WriteCache(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Capabilities
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.HandBrakeNVENC)
	assert.False(t, got.FFmpegQSVH264)
}
