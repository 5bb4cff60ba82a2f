// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package stabilize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ripflow/internal/jobs"
)

func TestSnapshotChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mkv"), []byte("one"), 0o644))

	first, clean := snapshot(dir)
	assert.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mkv"), []byte("longer content"), 0o644))
	second, clean := snapshot(dir)
	assert.True(t, clean)
	assert.NotEqual(t, first, second)

	third, _ := snapshot(dir)
	assert.Equal(t, second, third, "unchanged dir hashes identically")
}

func TestSnapshotSeesNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mkv"), []byte("x"), 0o644))
	first, _ := snapshot(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mkv"), []byte("x"), 0o644))
	second, _ := snapshot(dir)
	assert.NotEqual(t, first, second)
}

func TestWaitReturnsWhenQuiet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "title.mkv"), []byte("done"), 0o644))

	s := &Stabilizer{
		Interval: 10 * time.Millisecond,
		Window:   30 * time.Millisecond,
		Ceiling:  5 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.Wait(ctx, dir))
	assert.GreaterOrEqual(t, time.Since(start), s.Window)
}

func TestWaitCeilingHitIsUnstable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "growing.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// Keep the file growing so the window never elapses.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		data := []byte("x")
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				data = append(data, 'x')
				_ = os.WriteFile(path, data, 0o644)
			}
		}
	}()

	s := &Stabilizer{
		Interval: 10 * time.Millisecond,
		Window:   10 * time.Second,
		Ceiling:  150 * time.Millisecond,
	}
	err := s.Wait(context.Background(), dir)
	require.Error(t, err)

	var jerr *jobs.Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, jobs.KindUnstable, jerr.Kind)
}

func TestWaitHonorsContextCancel(t *testing.T) {
	dir := t.TempDir()
	s := &Stabilizer{
		Interval: 10 * time.Millisecond,
		Window:   10 * time.Second,
		Ceiling:  10 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := s.Wait(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
