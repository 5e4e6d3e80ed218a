package zpak

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileAndStats(t *testing.T) {
	t.Parallel()

	out, created := createImage(t, map[string]string{
		"a.txt": "alpha content",
		"b.txt": "beta content",
	})

	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	stats := img.Stats()
	assert.Equal(t, created, stats)
	assert.Equal(t, DefaultBlockSize, img.BlockSize())
	assert.Equal(t, "sha256", string(stats.DataDigest.Algorithm()))
	require.NoError(t, stats.DataDigest.Validate())
}

func TestOpenRejectsNonContainer(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/not-a-container"
	require.NoError(t, os.WriteFile(path, []byte("just some text, no magic here"), 0o644))

	_, err := OpenFile(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenRejectsTruncatedContainer(t *testing.T) {
	t.Parallel()

	out, _ := createImage(t, map[string]string{"f.txt": "content"})
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	// A container cut anywhere must fail at open, not at read time.
	for _, cut := range []int{0, 10, len(data) / 2, len(data) - 1} {
		_, err := New(bytes.NewReader(data[:cut]))
		assert.ErrorIs(t, err, ErrCorrupt, "cut at %d", cut)
	}
}

func TestOpenFromByteSource(t *testing.T) {
	t.Parallel()

	out, _ := createImage(t, map[string]string{"mem.txt": "in memory"})
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	// bytes.Reader satisfies ByteSource directly.
	img, err := New(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := img.ReadFile("mem.txt")
	require.NoError(t, err)
	assert.Equal(t, "in memory", string(got))
}

// corruptPayload flips one byte inside the blocks section of an
// uncompressed container.
func corruptPayload(t *testing.T) []byte {
	t.Helper()
	out, _ := createImage(t, map[string]string{"f.txt": "payload under test"},
		CreateWithCompression(CompressionNone))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	img, err := New(bytes.NewReader(data))
	require.NoError(t, err)
	data[img.header.BlocksOff] ^= 0xFF
	return data
}

func TestReadDetectsCorruptBlock(t *testing.T) {
	t.Parallel()

	data := corruptPayload(t)
	img, err := New(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = img.ReadFile("f.txt")
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestVerifyDisabledReturnsCorruptData(t *testing.T) {
	t.Parallel()

	data := corruptPayload(t)
	img, err := New(bytes.NewReader(data), WithVerify(false))
	require.NoError(t, err)

	got, err := img.ReadFile("f.txt")
	require.NoError(t, err)
	assert.NotEqual(t, "payload under test", string(got))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	out, _ := createImage(t, map[string]string{
		"a.txt": "verify me",
		"b.bin": "and me too",
	})
	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	require.NoError(t, img.Verify(t.Context()))

	corrupted, err := New(bytes.NewReader(corruptPayload(t)), WithVerify(false))
	require.NoError(t, err)
	assert.ErrorIs(t, corrupted.Verify(t.Context()), ErrCorrupt)
}

func TestInspectFile(t *testing.T) {
	t.Parallel()

	out, created := createImage(t, map[string]string{"x.txt": "inspect"})
	stats, err := InspectFile(out)
	require.NoError(t, err)
	assert.Equal(t, created, stats)
}

func TestStatsRatios(t *testing.T) {
	t.Parallel()

	s := Stats{UniqueBlocks: 3, TotalBlocks: 4, TotalSize: 1000, CompressedSize: 250}
	assert.InDelta(t, 0.25, s.DedupRatio(), 1e-9)
	assert.InDelta(t, 0.25, s.CompressionRatio(), 1e-9)
	assert.Equal(t, uint64(750), s.SpaceSaved())

	var empty Stats
	assert.Zero(t, empty.DedupRatio())
	assert.Equal(t, 1.0, empty.CompressionRatio())
	assert.Zero(t, empty.SpaceSaved())
}
