package zpak

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree materializes a file tree under a temp dir. Keys ending in
// "/" create empty directories.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if strings.HasSuffix(path, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

// createImage builds an image file from the given tree and returns
// its path and stats.
func createImage(t *testing.T, files map[string]string, opts ...CreateOption) (string, Stats) {
	t.Helper()
	dir := writeTree(t, files)
	out := filepath.Join(t.TempDir(), "test.zpak")
	stats, err := CreateFile(t.Context(), dir, out, opts...)
	require.NoError(t, err)
	return out, stats
}

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"hello.txt":        "hello world",
		"sub/nested.txt":   "nested content",
		"sub/deep/leaf.go": "package leaf",
		"empty.txt":        "",
		"void/":            "",
	}
	out, stats := createImage(t, files)

	assert.Equal(t, uint64(4), stats.FileCount)
	assert.Equal(t, uint64(3), stats.DirCount)
	assert.Equal(t, uint64(11+14+12), stats.TotalSize)

	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	for path, content := range files {
		if strings.HasSuffix(path, "/") {
			info, err := img.Stat(strings.TrimSuffix(path, "/"))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			continue
		}
		data, err := img.ReadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, content, string(data), path)
	}
}

func TestCreateDeduplicatesSharedBlocks(t *testing.T) {
	t.Parallel()

	// With the minimum block size, a.txt is [X, Y] and b.txt is
	// [X, Z]: four references, three unique blocks.
	blockX := strings.Repeat("x", MinBlockSize)
	files := map[string]string{
		"a.txt": blockX + strings.Repeat("y", MinBlockSize),
		"b.txt": blockX + strings.Repeat("z", MinBlockSize),
	}
	_, stats := createImage(t, files, CreateWithBlockSize(MinBlockSize))

	assert.Equal(t, uint64(4), stats.TotalBlocks)
	assert.Equal(t, uint64(3), stats.UniqueBlocks)
	assert.InDelta(t, 0.25, stats.DedupRatio(), 1e-9)
}

func TestCreateIdenticalFilesShareAllBlocks(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("same content. ", 2*MinBlockSize)
	files := map[string]string{
		"one.bin":      content,
		"two.bin":      content,
		"sub/copy.bin": content,
	}
	_, stats := createImage(t, files, CreateWithBlockSize(MinBlockSize))

	assert.Equal(t, 3*stats.UniqueBlocks, stats.TotalBlocks)
}

func TestCreateDeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["dir-"+name+"/file.txt"] = strings.Repeat(name, 3*MinBlockSize+17)
	}
	// Cross-file duplication so insertion order races matter.
	files["dup1.bin"] = strings.Repeat("a", 3*MinBlockSize+17)
	files["dup2.bin"] = strings.Repeat("e", 3*MinBlockSize+17)

	dir := writeTree(t, files)
	build := func(workers int) []byte {
		out := filepath.Join(t.TempDir(), "image.zpak")
		_, err := CreateFile(t.Context(), dir, out,
			CreateWithBlockSize(MinBlockSize),
			CreateWithWorkers(workers),
		)
		require.NoError(t, err)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		return data
	}

	serial := build(-1)
	assert.Equal(t, serial, build(1))
	assert.Equal(t, serial, build(4))
	assert.Equal(t, serial, build(16))
}

func TestCreateEmptyDirectory(t *testing.T) {
	t.Parallel()

	out, stats := createImage(t, map[string]string{"only/empty/dirs/": ""})
	assert.Equal(t, uint64(0), stats.FileCount)
	assert.Equal(t, uint64(3), stats.DirCount)
	assert.Equal(t, uint64(0), stats.UniqueBlocks)

	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	info, err := img.Stat("only/empty/dirs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateMaxFiles(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{
		"1.txt": "a", "2.txt": "b", "3.txt": "c",
	})
	out := filepath.Join(t.TempDir(), "image.zpak")

	_, err := CreateFile(t.Context(), dir, out, CreateWithMaxFiles(2))
	require.ErrorIs(t, err, ErrTooManyFiles)

	// A failed build must not leave a partial container behind.
	_, statErr := os.Stat(out)
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	_, err = CreateFile(t.Context(), dir, out, CreateWithMaxFiles(3))
	require.NoError(t, err)
}

func TestCreateInvalidOptions(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"f.txt": "x"})
	out := filepath.Join(t.TempDir(), "image.zpak")

	_, err := CreateFile(t.Context(), dir, out, CreateWithBlockSize(100))
	assert.Error(t, err)

	_, err = CreateFile(t.Context(), dir, out, CreateWithLevel(40))
	assert.Error(t, err)
}

func TestCreateSkipsSymlinks(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"real.txt": "content"})
	require.NoError(t, os.Symlink(
		filepath.Join(dir, "real.txt"),
		filepath.Join(dir, "link.txt"),
	))

	out := filepath.Join(t.TempDir(), "image.zpak")
	stats, err := CreateFile(t.Context(), dir, out)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FileCount)

	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	_, err = img.Stat("link.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateProfileDetection(t *testing.T) {
	t.Parallel()

	// Repetitive content stored under an already-compressed
	// extension must be stored raw; the same content as .txt
	// compresses.
	content := strings.Repeat("compress me please. ", 1024)
	_, zstdStats := createImage(t, map[string]string{"data.txt": content})
	_, noneStats := createImage(t, map[string]string{"data.png": content})

	assert.Less(t, zstdStats.CompressedSize, zstdStats.TotalSize)
	assert.Equal(t, noneStats.TotalSize, noneStats.CompressedSize)

	// Forcing an algorithm overrides the profile.
	_, forced := createImage(t, map[string]string{"data.png": content},
		CreateWithCompression(CompressionZstd))
	assert.Less(t, forced.CompressedSize, forced.TotalSize)
}

func TestCreateProgressEvents(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"a.txt": "aaa", "b.txt": "bbb"})
	out := filepath.Join(t.TempDir(), "image.zpak")

	var mu sync.Mutex
	var events []ProgressEvent
	_, err := CreateFile(t.Context(), dir, out, CreateWithProgress(func(e ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, StageScanning, events[0].Stage)
	assert.Equal(t, StageWriting, events[len(events)-1].Stage)
}

func TestCreateCancellation(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"f.txt": strings.Repeat("x", 4*MinBlockSize)})
	out := filepath.Join(t.TempDir(), "image.zpak")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := CreateFile(ctx, dir, out, CreateWithBlockSize(MinBlockSize))
	assert.ErrorIs(t, err, context.Canceled)
}
