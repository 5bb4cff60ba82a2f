// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHint(t *testing.T) {
	cases := []struct {
		name, hint string
		wantErr    bool
	}{
		{"simple disc name", "DUNE_2021", false},
		{"spaces allowed", "The Matrix (1999)", false},
		{"dots inside name", "2..Fast", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"forward slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"bare traversal", "..", true},
		{"control character", "abc\x07def", true},
		{"shell metacharacter", "rm;ls", true},
		{"dollar expansion", "$HOME", true},
		{"drive letter", "C:movie", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHint(tc.hint)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"The Matrix (1999)", "The Matrix (1999)"},
		{"A/B: C?", "A_B_ C_"},
		{"  spaced   out  ", "spaced out"},
		{"\x00\x1f", "untitled"},
		{"", "untitled"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanTitle(tc.in), "input %q", tc.in)
	}
}

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "DISC"), 0o755))

	t.Run("plain name resolves under root", func(t *testing.T) {
		got, err := ConfineRelPath(root, "DISC")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(mustReal(t, root), "DISC"), got)
	})

	t.Run("absolute target rejected", func(t *testing.T) {
		_, err := ConfineRelPath(root, "/etc/passwd")
		assert.Error(t, err)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := ConfineRelPath(root, "../outside")
		assert.Error(t, err)
	})

	t.Run("backslash rejected", func(t *testing.T) {
		_, err := ConfineRelPath(root, `..\outside`)
		assert.Error(t, err)
	})

	t.Run("symlink escape rejected", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		outside := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
		_, err := ConfineRelPath(root, "escape")
		assert.Error(t, err)
	})
}

func TestResolveHintRequiresExistence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "PRESENT"), 0o755))

	got, err := ResolveHint(root, "PRESENT", true)
	require.NoError(t, err)
	assert.DirExists(t, got)

	_, err = ResolveHint(root, "ABSENT", true)
	assert.Error(t, err)
}

func TestCopyFilePreservesMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o750))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestCopyTreeSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "a.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "link")))

	require.NoError(t, CopyTree(src, dst))

	assert.FileExists(t, filepath.Join(dst, "sub", "a.mkv"))
	_, err := os.Lstat(filepath.Join(dst, "link"))
	assert.True(t, os.IsNotExist(err))
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "artifact.mkv")
	dst := filepath.Join(dir, "published.mkv")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	require.NoError(t, MoveFile(src, dst))

	assert.FileExists(t, dst)
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
}

func mustReal(t *testing.T, path string) string {
	t.Helper()
	real, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return real
}
