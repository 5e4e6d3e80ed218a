package zpak

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirScannerOrder(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{
		"b.txt":   "b",
		"a/x.txt": "x",
		"a/y.txt": "y",
		"c/":      "",
	})

	var paths []string
	err := NewDirScanner(dir).Scan(t.Context(), func(e ScanEntry) error {
		paths = append(paths, e.Path)
		return nil
	})
	require.NoError(t, err)

	// Lexical walk order, parents before children.
	assert.Equal(t, []string{".", "a", "a/x.txt", "a/y.txt", "b.txt", "c"}, paths)
}

func TestDirScannerOpenOutlivesScan(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"late.txt": "read me later"})

	var open func() (io.ReadCloser, error)
	err := NewDirScanner(dir).Scan(t.Context(), func(e ScanEntry) error {
		if !e.IsDir {
			open = e.Open
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, open)

	// The closure must work after Scan has returned and released its
	// root handle.
	rc, err := open()
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "read me later", string(data))
}

func TestDirScannerSkipsIrregular(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"real.txt": "real"})
	require.NoError(t, os.Symlink("real.txt", filepath.Join(dir, "rel-link")))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(dir, "abs-link")))

	var paths []string
	err := NewDirScanner(dir).Scan(t.Context(), func(e ScanEntry) error {
		paths = append(paths, e.Path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "real.txt"}, paths)
}

func TestDirScannerYieldErrorStops(t *testing.T) {
	t.Parallel()

	dir := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	wantErr := assert.AnError
	var seen int
	err := NewDirScanner(dir).Scan(t.Context(), func(e ScanEntry) error {
		seen++
		if !e.IsDir {
			return wantErr
		}
		return nil
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, seen) // root plus first file
}
