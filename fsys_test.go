package zpak

import (
	"io"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestImage(t *testing.T, files map[string]string, opts ...CreateOption) *Image {
	t.Helper()
	out, _ := createImage(t, files, opts...)
	img, err := OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestImageFS(t *testing.T) {
	t.Parallel()

	img := openTestImage(t, map[string]string{
		"top.txt":     "top",
		"a/one.txt":   "one",
		"a/two.txt":   "two",
		"a/b/leaf.md": "leaf",
	})

	require.NoError(t, fstest.TestFS(img,
		"top.txt", "a/one.txt", "a/two.txt", "a/b/leaf.md"))
}

func TestReadFileMultiBlock(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("0123456789abcdef", MinBlockSize/4) // 4 blocks
	img := openTestImage(t, map[string]string{"big.bin": content},
		CreateWithBlockSize(MinBlockSize))

	data, err := img.ReadFile("big.bin")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestOpenStreamsBlocks(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("stream me. ", MinBlockSize)
	img := openTestImage(t, map[string]string{"s.txt": content},
		CreateWithBlockSize(MinBlockSize))

	f, err := img.Open("s.txt")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size())

	// Read with a buffer smaller than the block size.
	var got strings.Builder
	buf := make([]byte, 333)
	for {
		n, err := f.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, content, got.String())
}

func TestReadDirSortedAndPaged(t *testing.T) {
	t.Parallel()

	img := openTestImage(t, map[string]string{
		"d/zebra.txt": "z",
		"d/apple.txt": "a",
		"d/mid/":      "",
	})

	entries, err := img.ReadDir("d")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "apple.txt", entries[0].Name())
	assert.Equal(t, "mid", entries[1].Name())
	assert.True(t, entries[1].IsDir())
	assert.Equal(t, "zebra.txt", entries[2].Name())

	// Paged reads through the open-directory handle.
	dir, err := img.Open("d")
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })

	rd, ok := dir.(fs.ReadDirFile)
	require.True(t, ok)
	page, err := rd.ReadDir(2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	page, err = rd.ReadDir(2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	_, err = rd.ReadDir(2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFSErrors(t *testing.T) {
	t.Parallel()

	img := openTestImage(t, map[string]string{"f.txt": "x", "d/g.txt": "y"})

	_, err := img.Open("missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = img.Open("../escape")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = img.ReadDir("f.txt")
	assert.Error(t, err)

	_, err = img.ReadFile("d")
	assert.Error(t, err)

	var pathErr *fs.PathError
	_, err = img.Stat("nope")
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "nope", pathErr.Path)
}

func TestStatRoot(t *testing.T) {
	t.Parallel()

	img := openTestImage(t, map[string]string{"f.txt": "x"})
	info, err := img.Stat(".")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, ".", info.Name())
}
