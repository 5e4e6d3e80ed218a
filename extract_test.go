package zpak

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRoundTrip(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"readme.md":       "# readme",
		"src/main.go":     "package main",
		"src/util/n.go":   "package util",
		"assets/logo.png": strings.Repeat("\x89PNG", 64),
		"empty.txt":       "",
		"hollow/":         "",
	}
	out, _ := createImage(t, files)
	dest := t.TempDir()

	stats, err := ExtractFile(t.Context(), out, dest)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.FileCount)
	assert.Equal(t, 4, stats.DirCount)
	assert.Zero(t, stats.Skipped)

	for path, content := range files {
		if strings.HasSuffix(path, "/") {
			info, err := os.Stat(filepath.Join(dest, filepath.FromSlash(strings.TrimSuffix(path, "/"))))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			continue
		}
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		assert.Equal(t, content, string(data), path)
	}
}

func TestExtractSkipsExistingByDefault(t *testing.T) {
	t.Parallel()

	out, _ := createImage(t, map[string]string{"f.txt": "from image"})
	dest := t.TempDir()
	existing := filepath.Join(dest, "f.txt")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0o644))

	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	stats, err := img.Extract(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.FileCount)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))

	// With overwrite the image content wins.
	stats, err = img.Extract(t.Context(), dest, ExtractWithOverwrite(true))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)

	data, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "from image", string(data))
}

func TestExtractPreservesModeAndTime(t *testing.T) {
	t.Parallel()

	srcDir := writeTree(t, map[string]string{"script.sh": "#!/bin/sh\n"})
	script := filepath.Join(srcDir, "script.sh")
	modTime := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chmod(script, 0o755))
	require.NoError(t, os.Chtimes(script, modTime, modTime))

	out := filepath.Join(t.TempDir(), "image.zpak")
	_, err := CreateFile(t.Context(), srcDir, out)
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = ExtractFile(t.Context(), out, dest,
		ExtractWithPreserveMode(true),
		ExtractWithPreserveTimes(true),
	)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dest, "script.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(modTime))
}

func TestExtractPaths(t *testing.T) {
	t.Parallel()

	out, _ := createImage(t, map[string]string{
		"keep/a.txt":  "a",
		"keep/b.txt":  "b",
		"other/c.txt": "c",
		"top.txt":     "t",
	})
	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	dest := t.TempDir()
	stats, err := img.ExtractPaths(t.Context(), dest, []string{"keep", "top.txt"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FileCount)

	assert.FileExists(t, filepath.Join(dest, "keep", "a.txt"))
	assert.FileExists(t, filepath.Join(dest, "keep", "b.txt"))
	assert.FileExists(t, filepath.Join(dest, "top.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "other", "c.txt"))

	_, err = img.ExtractPaths(t.Context(), dest, []string{"missing"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractWorkersAgree(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		files[n+"/data.bin"] = strings.Repeat(n, 2*MinBlockSize+7)
	}
	out, _ := createImage(t, files, CreateWithBlockSize(MinBlockSize))

	for _, workers := range []int{-1, 1, 8} {
		dest := t.TempDir()
		stats, err := ExtractFile(t.Context(), out, dest, ExtractWithWorkers(workers))
		require.NoError(t, err)
		assert.Equal(t, 5, stats.FileCount)
		for _, n := range []string{"a", "b", "c", "d", "e"} {
			data, err := os.ReadFile(filepath.Join(dest, n, "data.bin"))
			require.NoError(t, err)
			assert.Equal(t, files[n+"/data.bin"], string(data))
		}
	}
}

func TestExtractAtomicOnCorruption(t *testing.T) {
	t.Parallel()

	data := corruptPayload(t)
	img, err := New(bytes.NewReader(data))
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = img.Extract(t.Context(), dest)
	require.ErrorIs(t, err, ErrDigestMismatch)

	// The failed file must not appear, not even partially, and no
	// temp litter may remain.
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
