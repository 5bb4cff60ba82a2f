// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ripflow/internal/jobs"
)

func makeDir(t *testing.T, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}
	return dir
}

func TestClassifyAudio(t *testing.T) {
	dir := makeDir(t, "SOME_ALBUM", "track01.flac", "track02.flac")
	got, err := Classify(dir, "SOME_ALBUM")
	require.NoError(t, err)
	assert.Equal(t, jobs.ClassAudio, got)
}

func TestClassifyAudioWinsOverEpisodeToken(t *testing.T) {
	// A single audio file classifies the whole directory.
	dir := makeDir(t, "SHOW_S01E01", "bonus.mp3", "title_t00.mkv")
	got, err := Classify(dir, "SHOW_S01E01")
	require.NoError(t, err)
	assert.Equal(t, jobs.ClassAudio, got)
}

func TestClassifyTVFromDirName(t *testing.T) {
	dir := makeDir(t, "Breaking_Bad_S02E05", "title_t00.mkv")
	got, err := Classify(dir, "")
	require.NoError(t, err)
	assert.Equal(t, jobs.ClassTV, got)
}

func TestClassifyTVFromHint(t *testing.T) {
	dir := makeDir(t, "DISC_1", "title_t00.mkv")
	got, err := Classify(dir, "The Wire s03e11")
	require.NoError(t, err)
	assert.Equal(t, jobs.ClassTV, got)
}

func TestClassifyMovie(t *testing.T) {
	dir := makeDir(t, "THE_MATRIX", "title_t00.mkv", "title_t01.mkv")
	got, err := Classify(dir, "THE_MATRIX")
	require.NoError(t, err)
	assert.Equal(t, jobs.ClassMovie, got)
}

func TestClassifyMissingDir(t *testing.T) {
	_, err := Classify(filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}
