package zpak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProfile(t *testing.T) {
	t.Parallel()

	cases := map[string]Profile{
		"readme.md":           ProfileText,
		"src/main.go":         ProfileText,
		"config.JSON":         ProfileText,
		"photo.jpg":           ProfileAlreadyCompressed,
		"archive.tar.gz":      ProfileAlreadyCompressed,
		"video.MP4":           ProfileAlreadyCompressed,
		"level.unity":         ProfileGameEngine,
		"Content/map.umap":    ProfileGameEngine,
		"chara.uasset":        ProfileGameEngine,
		"program.exe":         ProfileBinary,
		"libfoo.so":           ProfileBinary,
		"no-extension":        ProfileBinary,
		"weird.unknown-thing": ProfileBinary,
	}
	for path, want := range cases {
		assert.Equal(t, want, DetectProfile(path), path)
	}
}

func TestProfileCompression(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CompressionNone, ProfileAlreadyCompressed.Compression())
	assert.Equal(t, CompressionZstd, ProfileText.Compression())
	assert.Equal(t, CompressionZstd, ProfileBinary.Compression())
	assert.Equal(t, CompressionZstd, ProfileGameEngine.Compression())
}

func TestProfileLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 19, ProfileText.Level())
	assert.Equal(t, 15, ProfileGameEngine.Level())
	assert.Equal(t, DefaultLevel, ProfileBinary.Level())
	assert.Equal(t, MinLevel, ProfileAlreadyCompressed.Level())
}

func TestProfileString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "text", ProfileText.String())
	assert.Equal(t, "binary", ProfileBinary.String())
	assert.Equal(t, "game-engine", ProfileGameEngine.String())
	assert.Equal(t, "already-compressed", ProfileAlreadyCompressed.String())
	assert.Equal(t, "unknown", Profile(42).String())
}
