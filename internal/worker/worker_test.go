// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !windows

package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/ripflow/internal/config"
	"github.com/ManuGH/ripflow/internal/encode"
	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/probe"
	"github.com/ManuGH/ripflow/internal/stabilize"
	"github.com/ManuGH/ripflow/internal/store"
)

// fakeEncoder is a stand-in transcode binary: it writes its last argument
// as the output file and emits one progress line.
const fakeEncoder = `#!/bin/sh
for a in "$@"; do out="$a"; done
printf 'Encoding: task 1 of 1, 50.00 %%\n'
echo "transcoded" > "$out"
`

func testSetup(t *testing.T) (*Worker, *store.Store, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.RawPath = filepath.Join(root, "raw")
	cfg.WorkPath = filepath.Join(root, "work")
	cfg.CompletedPath = filepath.Join(root, "completed")
	cfg.DBPath = filepath.Join(root, "jobs.db")
	cfg.DeleteSource = true
	for _, d := range []string{cfg.RawPath, cfg.WorkPath, cfg.CompletedPath} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	bin := filepath.Join(root, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte(fakeEncoder), 0o755))

	st, err := store.Open(cfg.DBPath, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	settings := encode.Settings{
		VideoEncoder:    "x265",
		VideoQuality:    22,
		AudioEncoder:    "copy",
		SubtitleMode:    "none",
		OutputExtension: "mkv",
		FFmpegPath:      bin,
		HandBrakePath:   bin,
	}
	planner, err := encode.NewPlanner(settings, probe.Capabilities{})
	require.NoError(t, err)

	w := New(st, &cfg, planner, probe.New(filepath.Join(root, "missing-ffprobe")))
	w.stab = &stabilize.Stabilizer{
		Interval: 10 * time.Millisecond,
		Window:   20 * time.Millisecond,
		Ceiling:  5 * time.Second,
	}
	return w, st, &cfg
}

func admit(t *testing.T, st *store.Store, title, hint string) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	_, err := st.Insert(ctx, title, hint, "")
	require.NoError(t, err)
	j, err := st.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func TestDiscoverVideosLargestFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.mkv"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.mkv"), make([]byte, 1000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	got, err := discoverVideos(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "feature.mkv", filepath.Base(got[0]))
	assert.Equal(t, "extra.mkv", filepath.Base(got[1]))
}

func TestDiscoverAudiosSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"02.flac", "01.flac", "cover.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}
	got, err := discoverAudios(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "01.flac", filepath.Base(got[0]))
	assert.Equal(t, "02.flac", filepath.Base(got[1]))
}

func TestProcessVideoJob(t *testing.T) {
	w, st, cfg := testSetup(t)
	ctx := context.Background()

	src := filepath.Join(cfg.RawPath, "THE_MATRIX")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t00.mkv"), make([]byte, 2048), 0o644))

	j := admit(t, st, "The Matrix (1999)", "THE_MATRIX")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status, "error: %s", got.Error)
	assert.Equal(t, jobs.ClassMovie, got.Classification)
	assert.Equal(t, jobs.FamilySoftware, got.Family)
	assert.Equal(t, 1, got.TotalTracks)
	assert.InDelta(t, 100.0, got.Progress, 0.001)

	want := filepath.Join(cfg.CompletedPath, cfg.MoviesSubdir, "The Matrix (1999).mkv")
	assert.Equal(t, want, got.OutputPath)
	_, err = os.Stat(want)
	assert.NoError(t, err, "published artifact exists")

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source removed with DELETE_SOURCE")

	entries, err := os.ReadDir(cfg.WorkPath)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch cleaned up")
}

func TestProcessMultiTrackPublishesDirectory(t *testing.T) {
	w, st, cfg := testSetup(t)
	ctx := context.Background()

	src := filepath.Join(cfg.RawPath, "SHOW_S01E01")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t00.mkv"), make([]byte, 4096), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t01.mkv"), make([]byte, 1024), 0o644))

	j := admit(t, st, "Show S01E01", "SHOW_S01E01")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status, "error: %s", got.Error)
	assert.Equal(t, jobs.ClassTV, got.Classification)
	assert.Equal(t, 2, got.TotalTracks)
	assert.Equal(t, "title_t00.mkv", got.MainFeature)

	destDir := filepath.Join(cfg.CompletedPath, cfg.TVSubdir, "Show S01E01")
	assert.Equal(t, destDir, got.OutputPath)
	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcessAudioPassthrough(t *testing.T) {
	w, st, cfg := testSetup(t)
	ctx := context.Background()

	src := filepath.Join(cfg.RawPath, "SOME_ALBUM")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "01.flac"), []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "02.flac"), []byte("audio"), 0o644))

	j := admit(t, st, "Some Album", "SOME_ALBUM")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status, "error: %s", got.Error)
	assert.Equal(t, jobs.ClassAudio, got.Classification)
	assert.Equal(t, 2, got.TotalTracks)

	destDir := filepath.Join(cfg.CompletedPath, cfg.AudioSubdir, "Some Album")
	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcessMissingSourceFails(t *testing.T) {
	w, st, _ := testSetup(t)
	ctx := context.Background()

	j := admit(t, st, "Ghost", "DOES_NOT_EXIST")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.KindMissing, got.ErrorKind)
}

func TestProcessEmptySourceFails(t *testing.T) {
	w, st, cfg := testSetup(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.RawPath, "EMPTY_DISC"), 0o755))
	j := admit(t, st, "Empty", "EMPTY_DISC")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.KindMissing, got.ErrorKind)
}

func TestProcessNoSpaceFails(t *testing.T) {
	w, st, cfg := testSetup(t)
	ctx := context.Background()

	// An absurd reserve makes any host fail admission.
	cfg.MinimumFreeSpaceGB = 1 << 20

	src := filepath.Join(cfg.RawPath, "BIG_MOVIE")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t00.mkv"), make([]byte, 1024), 0o644))

	j := admit(t, st, "Big", "BIG_MOVIE")
	w.process(ctx, j)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.KindNoSpace, got.ErrorKind)
}

func TestProcessShutdownReleasesJob(t *testing.T) {
	w, st, cfg := testSetup(t)

	src := filepath.Join(cfg.RawPath, "SLOW_DISC")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t00.mkv"), make([]byte, 1024), 0o644))
	// A huge quiet window keeps the job in STABILIZING until we cancel.
	w.stab.Window = time.Hour

	j := admit(t, st, "Slow", "SLOW_DISC")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	w.process(ctx, j)

	got, err := st.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Equal(t, jobs.KindShutdown, got.ErrorKind)
	assert.Zero(t, got.RetryCount, "shutdown does not consume retries")
}

func TestRunLoopShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"),
	)

	w, _, _ := testSetup(t)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, w.State())
	cancel()
	wg.Wait()
	assert.Equal(t, StateShuttingDown, w.State())
}

func TestNotifyWakesLoop(t *testing.T) {
	w, st, cfg := testSetup(t)

	src := filepath.Join(cfg.RawPath, "QUICK")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "title_t00.mkv"), make([]byte, 512), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(30 * time.Millisecond)

	_, err := st.Insert(context.Background(), "Quick", "QUICK", "")
	require.NoError(t, err)
	w.Notify()

	require.Eventually(t, func() bool {
		list, err := st.List(context.Background(), jobs.StatusCompleted, 0, 0)
		return err == nil && len(list) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
