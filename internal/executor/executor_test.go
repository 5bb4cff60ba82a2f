// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !windows

package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressFFmpeg(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		duration float64
		want     float64
		ok       bool
	}{
		{"half way", "frame= 1234 fps= 30 time=01:00:00.00 bitrate= 5000k", 7200, 50, true},
		{"fractional", "time=00:00:30.50 speed=2x", 61, 50, true},
		{"over duration clamps", "time=03:00:00.00", 7200, 100, true},
		{"no duration", "time=01:00:00.00", 0, 0, false},
		{"no match", "frame= 1234 fps= 30", 7200, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseProgress(tt.line, tt.duration)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.InDelta(t, tt.want, got, 0.01)
			}
		})
	}
}

func TestParseProgressHandBrake(t *testing.T) {
	got, ok := parseProgress("Encoding: task 1 of 1, 45.23 %", 0)
	require.True(t, ok)
	assert.InDelta(t, 45.23, got, 0.001)

	got, ok = parseProgress("Encoding: task 2 of 2, 99.9 % (120.5 fps)", 0)
	require.True(t, ok)
	assert.InDelta(t, 99.9, got, 0.001)

	_, ok = parseProgress("Muxing: this may take awhile...", 0)
	assert.False(t, ok)
}

func TestRunCapturesProgressAndExit(t *testing.T) {
	e := New()
	var mu sync.Mutex
	var seen []float64

	res, err := e.Run(context.Background(),
		[]string{"sh", "-c", `printf 'Encoding: task 1 of 1, 25.00 %%\n'; printf 'Encoding: task 1 of 1, 75.00 %%\n'`},
		t.TempDir(), 0,
		func(p float64) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.InDelta(t, 25.0, seen[0], 0.001)
	assert.InDelta(t, 75.0, seen[1], 0.001)
}

func TestRunNonzeroExitKeepsStderrTail(t *testing.T) {
	e := New()
	res, err := e.Run(context.Background(),
		[]string{"sh", "-c", `echo "boom: encoder died" 1>&2; exit 3`},
		t.TempDir(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.StderrTail, "boom: encoder died")
}

func TestRunStderrTailBounded(t *testing.T) {
	e := New()
	// ~40 KiB of stderr; only the last 8 KiB survives.
	res, err := e.Run(context.Background(),
		[]string{"sh", "-c", `i=0; while [ $i -lt 1000 ]; do echo "line $i padding padding padding" 1>&2; i=$((i+1)); done; exit 1`},
		t.TempDir(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.LessOrEqual(t, len(res.StderrTail), stderrTailSize)
	assert.Contains(t, res.StderrTail, "line 999")
	assert.NotContains(t, res.StderrTail, "line 0 ")
}

func TestRunCancellation(t *testing.T) {
	e := New()
	e.Grace = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Run(ctx, []string{"sleep", "30"}, t.TempDir(), 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunBadBinary(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), []string{"/nonexistent/binary"}, t.TempDir(), 0, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "start"))
}

func TestRunEmptyArgv(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), nil, "", 0, nil)
	assert.Error(t, err)
}
